package alerts

import (
	"strconv"
	"strings"
	"time"

	"emotrack-go/internal/config"
	"emotrack-go/internal/types"
)

// Keys of the operator overrides stored in app_config.
const (
	OverridePrefix = "alert_"

	KeyIntensityHighThreshold = "alert_intensity_high_threshold"
	KeyEmotionStreakLength    = "alert_emotion_streak_length"
	KeyAvgIntensityCount      = "alert_avg_intensity_count"
	KeyAvgIntensityThreshold  = "alert_avg_intensity_threshold"
	KeyDedupWindow            = "alert_dedup_window"
	KeySeverityIntensityHigh  = "alert_severity_intensity_high"
	KeySeverityEmotionStreak  = "alert_severity_emotion_streak"
	KeySeverityAvgIntensity   = "alert_severity_avg_intensity_high"
)

// Settings are the effective thresholds for one evaluation.
type Settings struct {
	IntensityHighThreshold float64
	EmotionStreakLength    int
	AvgIntensityCount      int
	AvgIntensityThreshold  float64
	DedupWindow            time.Duration
	HistoryLimit           int

	SeverityIntensityHigh types.Severity
	SeverityEmotionStreak types.Severity
	SeverityAvgIntensity  types.Severity
}

func SettingsFromConfig(c config.AlertConfig) Settings {
	limit := c.HistoryLimit
	if limit <= 0 {
		limit = 50
	}
	return Settings{
		IntensityHighThreshold: c.IntensityHighThreshold,
		EmotionStreakLength:    c.EmotionStreakLength,
		AvgIntensityCount:      c.AvgIntensityCount,
		AvgIntensityThreshold:  c.AvgIntensityThreshold,
		DedupWindow:            c.DedupWindow,
		HistoryLimit:           limit,
		SeverityIntensityHigh:  types.ParseSeverity(c.SeverityIntensityHigh, types.SeverityCritical),
		SeverityEmotionStreak:  types.ParseSeverity(c.SeverityEmotionStreak, types.SeverityWarning),
		SeverityAvgIntensity:   types.ParseSeverity(c.SeverityAvgIntensity, types.SeverityWarning),
	}
}

// WithOverrides applies alert_* values; unparsable entries are ignored and
// reported by key.
func (s Settings) WithOverrides(m map[string]string) (Settings, []string) {
	var bad []string
	float := func(key string, dst *float64) {
		if v, ok := m[key]; ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				bad = append(bad, key)
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := m[key]; ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				bad = append(bad, key)
				return
			}
			*dst = n
		}
	}
	severity := func(key string, dst *types.Severity) {
		if v, ok := m[key]; ok {
			*dst = types.ParseSeverity(v, *dst)
		}
	}

	float(KeyIntensityHighThreshold, &s.IntensityHighThreshold)
	integer(KeyEmotionStreakLength, &s.EmotionStreakLength)
	integer(KeyAvgIntensityCount, &s.AvgIntensityCount)
	float(KeyAvgIntensityThreshold, &s.AvgIntensityThreshold)
	if v, ok := m[KeyDedupWindow]; ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d < 0 {
			bad = append(bad, KeyDedupWindow)
		} else {
			s.DedupWindow = d
		}
	}
	severity(KeySeverityIntensityHigh, &s.SeverityIntensityHigh)
	severity(KeySeverityEmotionStreak, &s.SeverityEmotionStreak)
	severity(KeySeverityAvgIntensity, &s.SeverityAvgIntensity)
	return s, bad
}
