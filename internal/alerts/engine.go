// Package alerts evaluates the versioned alert rule set against a child's
// response history.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"emotrack-go/internal/config"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
	"emotrack-go/internal/store"
	"emotrack-go/internal/types"
)

// RuleVersion identifies the current rule set. Any change to rule logic
// must bump it so older dedup windows are not reinterpreted.
const RuleVersion = "v2"

var neutralLike = map[string]bool{"neutral": true, "none": true, "unknown": true}

type Engine struct {
	base    Settings
	dynamic bool
	locker  Locker
	now     func() time.Time
	log     *logger.Logger
}

// NewEngine builds an engine from static config. locker may be nil.
func NewEngine(cfg config.AlertConfig, locker Locker, log *logger.Logger) *Engine {
	return &Engine{
		base:    SettingsFromConfig(cfg),
		dynamic: cfg.DynamicConfig,
		locker:  locker,
		now:     time.Now,
		log:     log.Component("alert-engine"),
	}
}

// Dynamic reports whether operator overrides from app_config are honored.
func (e *Engine) Dynamic() bool { return e.dynamic }

// SetClock overrides the wall clock used for alert timestamps and windows.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Settings returns the effective settings, including dynamic overrides
// when enabled.
func (e *Engine) Settings(ctx context.Context, st store.Store) Settings {
	if !e.dynamic {
		return e.base
	}
	overrides, err := st.ConfigOverrides(ctx, OverridePrefix)
	if err != nil {
		e.log.WithError(err).Warn("dynamic alert config unavailable, using static settings")
		return e.base
	}
	s, bad := e.base.WithOverrides(overrides)
	if len(bad) > 0 {
		e.log.WithField("keys", bad).Warn("ignored invalid alert overrides")
	}
	return s
}

// WithSubjectLock runs fn holding the per-child lock when one is configured.
func (e *Engine) WithSubjectLock(ctx context.Context, childID int64, fn func() error) error {
	if e.locker == nil {
		return fn()
	}
	return e.locker.WithLock(ctx, fmt.Sprintf("emotrack:alerts:lock:%d", childID), fn)
}

// Evaluate runs every rule for the response and adds the resulting alerts
// to tx. Committing is the caller's job. Suppression relies on a read of
// recent alerts immediately before each insert, so concurrent evaluations
// for the same child can still both insert.
func (e *Engine) Evaluate(ctx context.Context, tx store.Store, resp types.ResponseRecord, analysis types.AnalysisResult) ([]types.AlertRecord, error) {
	if resp.ChildID == nil {
		return nil, nil
	}
	childID := *resp.ChildID
	s := e.Settings(ctx, tx)

	history, err := tx.RecentResponses(ctx, childID, s.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history = withCurrent(history, resp, analysis)

	primary := strings.TrimSpace(analysis.PrimaryEmotion)
	if primary == "" {
		primary = "Unknown"
	}

	var candidates []types.AlertRecord
	if analysis.Intensity >= s.IntensityHighThreshold {
		candidates = append(candidates, types.AlertRecord{
			Type:     types.RuleIntensityHigh,
			Message:  fmt.Sprintf("High intensity detected (%.2f)", analysis.Intensity),
			Severity: s.SeverityIntensityHigh,
		})
	}
	if streak(history, primary, s.EmotionStreakLength) {
		candidates = append(candidates, types.AlertRecord{
			Type:     types.RuleEmotionStreak,
			Message:  fmt.Sprintf("%d consecutive responses with emotion %s", s.EmotionStreakLength, primary),
			Severity: s.SeverityEmotionStreak,
		})
	}
	if avg, ok := averageIntensity(history, s.AvgIntensityCount); ok && avg >= s.AvgIntensityThreshold {
		candidates = append(candidates, types.AlertRecord{
			Type:     types.RuleAvgIntensityHigh,
			Message:  fmt.Sprintf("High average intensity over the last %d responses (%.2f)", s.AvgIntensityCount, avg),
			Severity: s.SeverityAvgIntensity,
		})
	}

	now := e.now().UTC()
	since := now.Add(-s.DedupWindow)
	var created []types.AlertRecord
	for _, a := range candidates {
		exists, err := tx.RecentAlertExists(ctx, childID, a.Type, RuleVersion, since)
		if err != nil {
			return created, fmt.Errorf("dedup check %s: %w", a.Type, err)
		}
		if exists {
			metrics.RecordAlertSuppressed(string(a.Type))
			e.log.WithField("child_id", childID).WithField("alert_type", a.Type).Debug("alert suppressed by dedup window")
			continue
		}

		a.ChildID = childID
		a.RuleVersion = RuleVersion
		a.CreatedAt = now
		if resp.ID != 0 {
			id := resp.ID
			a.ResponseID = &id
		}
		if err := tx.CreateAlert(ctx, &a); err != nil {
			return created, fmt.Errorf("create alert %s: %w", a.Type, err)
		}
		metrics.RecordAlert(string(a.Type))
		created = append(created, a)
	}
	return created, nil
}

// withCurrent makes sure the response being evaluated is the newest entry
// of history, carrying the intensity and emotion of this analysis.
func withCurrent(history []types.ResponseRecord, resp types.ResponseRecord, analysis types.AnalysisResult) []types.ResponseRecord {
	current := resp
	current.Emotion = analysis.PrimaryEmotion
	current.Intensity = analysis.Intensity

	out := make([]types.ResponseRecord, 0, len(history)+1)
	for _, h := range history {
		if resp.ID != 0 && h.ID == resp.ID {
			continue
		}
		out = append(out, h)
	}
	return append(out, current)
}

func streak(history []types.ResponseRecord, primary string, n int) bool {
	if n <= 0 || len(history) < n || neutralLike[strings.ToLower(primary)] {
		return false
	}
	for _, r := range history[len(history)-n:] {
		if strings.TrimSpace(r.Emotion) != primary {
			return false
		}
	}
	return true
}

func averageIntensity(history []types.ResponseRecord, m int) (float64, bool) {
	if m <= 0 || len(history) < m {
		return 0, false
	}
	sum := 0.0
	for _, r := range history[len(history)-m:] {
		sum += r.Intensity
	}
	return sum / float64(m), true
}
