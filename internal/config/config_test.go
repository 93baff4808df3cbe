package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 3, cfg.Analysis.MaxAttempts)
	assert.Equal(t, 600*time.Millisecond, cfg.Analysis.BackoffBase)
	assert.Equal(t, 0.8, cfg.Alerts.IntensityHighThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Alerts.DedupWindow)
	assert.Equal(t, 50, cfg.Alerts.HistoryLimit)
	assert.Equal(t, []string{"wav", "mp3", "m4a", "webm", "ogg"}, cfg.Audio.AllowedFormats)
	assert.False(t, cfg.Analysis.Configured())
}

func TestLoad_NormalizesEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("AUDIO_ALLOWED_FORMATS", ".WAV, mp3")
	t.Setenv("ANALYSIS_ENABLED", "true")
	t.Setenv("ANALYSIS_API_KEY", "k")
	t.Setenv("AUDIO_MAX_SIZE_MB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"wav", "mp3"}, cfg.Audio.AllowedFormats)
	assert.True(t, cfg.Analysis.Configured())
	assert.Equal(t, int64(2*1024*1024), cfg.Audio.MaxSizeBytes())
}

func TestLoad_RulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
intensity_high:
  threshold: 0.9
  severity: warning
emotion_streak:
  length: 4
avg_intensity_high:
  count: 6
  threshold: 0.65
dedup_window: 30m
`), 0o600))
	t.Setenv("ALERT_RULES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Alerts.IntensityHighThreshold)
	assert.Equal(t, "warning", cfg.Alerts.SeverityIntensityHigh)
	assert.Equal(t, 4, cfg.Alerts.EmotionStreakLength)
	assert.Equal(t, "warning", cfg.Alerts.SeverityEmotionStreak)
	assert.Equal(t, 6, cfg.Alerts.AvgIntensityCount)
	assert.Equal(t, 0.65, cfg.Alerts.AvgIntensityThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Alerts.DedupWindow)
}

func TestLoad_MissingRulesFile(t *testing.T) {
	t.Setenv("ALERT_RULES_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "read rules file")
}

func TestApplyRules_BadDuration(t *testing.T) {
	var a AlertConfig
	assert.Error(t, a.ApplyRules([]byte("dedup_window: soon")))
	assert.Error(t, a.ApplyRules([]byte("intensity_high: [")))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{WorkerCount: 1, QueueBackend: "memory", Analysis: AnalysisConfig{MaxAttempts: 3}}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no workers", func(c *Config) { c.WorkerCount = 0 }, "WORKER_COUNT"},
		{"no attempts", func(c *Config) { c.Analysis.MaxAttempts = 0 }, "ANALYSIS_MAX_ATTEMPTS"},
		{"redis without url", func(c *Config) { c.QueueBackend = "redis" }, "REDIS_URL"},
		{"unknown backend", func(c *Config) { c.QueueBackend = "kafka" }, "unknown QUEUE_BACKEND"},
		{"negative window", func(c *Config) { c.Alerts.DedupWindow = -time.Second }, "ALERT_DEDUP_WINDOW"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
