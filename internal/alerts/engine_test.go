package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotrack-go/internal/config"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/store"
	"emotrack-go/internal/types"
)

func defaultAlertConfig() config.AlertConfig {
	return config.AlertConfig{
		IntensityHighThreshold: 0.8,
		EmotionStreakLength:    3,
		AvgIntensityCount:      5,
		AvgIntensityThreshold:  0.7,
		DedupWindow:            10 * time.Minute,
		HistoryLimit:           50,
		SeverityIntensityHigh:  "critical",
		SeverityEmotionStreak:  "warning",
		SeverityAvgIntensity:   "warning",
	}
}

type harness struct {
	t      *testing.T
	store  *store.MemoryStore
	engine *Engine
	clock  time.Time
}

func newHarness(t *testing.T, cfg config.AlertConfig) *harness {
	h := &harness{
		t:     t,
		store: store.NewMemoryStore(),
		clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.store.SetClock(func() time.Time { return h.clock })
	h.engine = NewEngine(cfg, nil, logger.Discard())
	h.engine.SetClock(func() time.Time { return h.clock })
	return h
}

// submit persists a completed response for child 1 and evaluates it.
func (h *harness) submit(emotion string, intensity float64) []types.AlertRecord {
	h.t.Helper()
	ctx := context.Background()
	h.clock = h.clock.Add(time.Second)

	childID := int64(1)
	r := &types.ResponseRecord{ChildID: &childID, Status: types.StatusCompleted, Emotion: emotion, Intensity: intensity}
	require.NoError(h.t, h.store.CreateResponse(ctx, r))

	created, err := h.engine.Evaluate(ctx, h.store, *r, types.AnalysisResult{PrimaryEmotion: emotion, Intensity: intensity})
	require.NoError(h.t, err)
	return created
}

func alertTypes(alerts []types.AlertRecord) []types.RuleType {
	out := make([]types.RuleType, len(alerts))
	for i, a := range alerts {
		out[i] = a.Type
	}
	return out
}

func TestEvaluate_IntensityHigh(t *testing.T) {
	h := newHarness(t, defaultAlertConfig())

	assert.Empty(t, h.submit("Happy", 0.79))

	created := h.submit("Happy", 0.8)
	require.Len(t, created, 1)
	a := created[0]
	assert.Equal(t, types.RuleIntensityHigh, a.Type)
	assert.Equal(t, types.SeverityCritical, a.Severity)
	assert.Equal(t, RuleVersion, a.RuleVersion)
	assert.Equal(t, int64(1), a.ChildID)
	require.NotNil(t, a.ResponseID)
}

func TestEvaluate_EmotionStreak(t *testing.T) {
	tests := []struct {
		name     string
		emotions []string
		fires    bool
	}{
		{"three identical", []string{"Sad", "Sad", "Sad"}, true},
		{"broken by the middle one", []string{"Sad", "Angry", "Sad"}, false},
		{"broken by the first one", []string{"Angry", "Sad", "Sad"}, false},
		{"older noise ignored", []string{"Happy", "Angry", "Sad", "Sad", "Sad"}, true},
		{"neutral excluded", []string{"Neutral", "Neutral", "Neutral"}, false},
		{"unknown excluded case-insensitively", []string{"UNKNOWN", "UNKNOWN", "UNKNOWN"}, false},
		{"none excluded", []string{"none", "none", "none"}, false},
		{"too short", []string{"Sad", "Sad"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultAlertConfig())
			var last []types.AlertRecord
			for _, e := range tt.emotions {
				last = h.submit(e, 0.1)
			}
			if tt.fires {
				assert.Equal(t, []types.RuleType{types.RuleEmotionStreak}, alertTypes(last))
				assert.Equal(t, types.SeverityWarning, last[0].Severity)
			} else {
				assert.Empty(t, last)
			}
		})
	}
}

func TestEvaluate_AvgIntensityNeedsEnoughHistory(t *testing.T) {
	cfg := defaultAlertConfig()
	cfg.IntensityHighThreshold = 2
	cfg.EmotionStreakLength = 0
	h := newHarness(t, cfg)

	for i := 0; i < 4; i++ {
		assert.Empty(t, h.submit("Happy", 0.99), "fewer than 5 responses must never fire")
	}
	created := h.submit("Happy", 0.99)
	assert.Contains(t, alertTypes(created), types.RuleAvgIntensityHigh)
}

func TestEvaluate_AvgIntensityUsesLastWindowOnly(t *testing.T) {
	cfg := defaultAlertConfig()
	cfg.IntensityHighThreshold = 2
	cfg.EmotionStreakLength = 0
	h := newHarness(t, cfg)

	for _, v := range []float64{0.9, 0.9, 0.9, 0.1, 0.1, 0.1, 0.1} {
		h.submit("Happy", v)
	}
	assert.Empty(t, h.submit("Happy", 0.9))
}

func TestEvaluate_DedupWindow(t *testing.T) {
	h := newHarness(t, defaultAlertConfig())

	require.Len(t, h.submit("Happy", 0.9), 1)
	assert.Empty(t, h.submit("Sad", 0.95), "second alert inside the window is suppressed")

	h.clock = h.clock.Add(9 * time.Minute)
	assert.Empty(t, h.submit("Angry", 0.95))

	h.clock = h.clock.Add(2 * time.Minute)
	require.Len(t, h.submit("Calm", 0.95), 1)

	all, err := h.store.ListAlerts(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.GreaterOrEqual(t, all[0].CreatedAt.Sub(all[1].CreatedAt), 10*time.Minute)
}

func TestEvaluate_NoSubject(t *testing.T) {
	h := newHarness(t, defaultAlertConfig())
	created, err := h.engine.Evaluate(context.Background(), h.store, types.ResponseRecord{ID: 1}, types.AnalysisResult{Intensity: 1})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestEvaluate_CurrentResponseNotYetPersisted(t *testing.T) {
	h := newHarness(t, defaultAlertConfig())
	h.submit("Sad", 0.1)
	h.submit("Sad", 0.1)

	childID := int64(1)
	created, err := h.engine.Evaluate(context.Background(), h.store,
		types.ResponseRecord{ID: 99, ChildID: &childID}, types.AnalysisResult{PrimaryEmotion: "Sad", Intensity: 0.1})
	require.NoError(t, err)
	assert.Equal(t, []types.RuleType{types.RuleEmotionStreak}, alertTypes(created))
}

func TestEvaluate_DynamicOverrides(t *testing.T) {
	cfg := defaultAlertConfig()
	cfg.DynamicConfig = true
	h := newHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.store.SetConfig(ctx, KeyIntensityHighThreshold, "0.5"))
	require.NoError(t, h.store.SetConfig(ctx, KeySeverityIntensityHigh, "INFO"))
	require.NoError(t, h.store.SetConfig(ctx, KeyEmotionStreakLength, "not-a-number"))

	s := h.engine.Settings(ctx, h.store)
	assert.Equal(t, 0.5, s.IntensityHighThreshold)
	assert.Equal(t, 3, s.EmotionStreakLength)

	created := h.submit("Happy", 0.6)
	require.Len(t, created, 1)
	assert.Equal(t, types.SeverityInfo, created[0].Severity)
}

func TestWithOverrides_ReportsInvalidKeys(t *testing.T) {
	base := SettingsFromConfig(defaultAlertConfig())
	s, bad := base.WithOverrides(map[string]string{
		KeyAvgIntensityCount:     "7",
		KeyDedupWindow:           "15m",
		KeyAvgIntensityThreshold: "x",
		KeySeverityAvgIntensity:  "bogus",
	})
	assert.Equal(t, 7, s.AvgIntensityCount)
	assert.Equal(t, 15*time.Minute, s.DedupWindow)
	assert.Equal(t, 0.7, s.AvgIntensityThreshold)
	assert.Equal(t, types.SeverityWarning, s.SeverityAvgIntensity)
	assert.Equal(t, []string{KeyAvgIntensityThreshold}, bad)
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocalLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "child:1", func() error {
				mu.Lock()
				inside++
				maxSeen = max(maxSeen, inside)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
