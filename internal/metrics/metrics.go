package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Analysis client calls by outcome (ok, fallback, disabled)",
		},
		[]string{"outcome"},
	)

	AnalysisFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "analysis",
			Name:      "fallbacks_total",
			Help:      "Local fallback analyses by reason",
		},
		[]string{"reason"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emotrack",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis client latency including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Processed jobs by kind and status",
		},
		[]string{"kind", "status"},
	)

	StageDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "pipeline",
			Name:      "stage_degraded_total",
			Help:      "Pipeline stages that degraded instead of failing",
		},
		[]string{"stage", "reason"},
	)

	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "transcription",
			Name:      "cache_hits_total",
			Help:      "Transcription cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "transcription",
			Name:      "cache_misses_total",
			Help:      "Transcription cache misses",
		},
		[]string{"cache_type"},
	)

	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Alerts created by rule type",
		},
		[]string{"type"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Alerts suppressed by the dedup window",
		},
		[]string{"type"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Event publications by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	AudioSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "emotrack",
			Subsystem: "audio",
			Name:      "swept_files_total",
			Help:      "Expired audio artifacts deleted",
		},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordAnalysis(outcome string, durationSec float64) {
	AnalysisRequestsTotal.WithLabelValues(outcome).Inc()
	AnalysisDuration.WithLabelValues(outcome).Observe(durationSec)
}

func RecordFallback(reason string) {
	AnalysisFallbacksTotal.WithLabelValues(reason).Inc()
}

func RecordTask(kind, status string) {
	TasksTotal.WithLabelValues(kind, status).Inc()
}

func RecordDegraded(stage, reason string) {
	StageDegradedTotal.WithLabelValues(stage, reason).Inc()
}

func RecordCacheHit(cacheType string) {
	CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

func RecordAlert(alertType string) {
	AlertsCreatedTotal.WithLabelValues(alertType).Inc()
}

func RecordAlertSuppressed(alertType string) {
	AlertsSuppressedTotal.WithLabelValues(alertType).Inc()
}

func RecordPublish(sink, outcome string) {
	EventsPublishedTotal.WithLabelValues(sink, outcome).Inc()
}

func RecordSwept(n int) {
	AudioSweptTotal.Add(float64(n))
}

func RecordHTTP(method, route string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
