package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Port        int    `env:"PORT" envDefault:"8080"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	QueueBackend string        `env:"QUEUE_BACKEND" envDefault:"memory"`
	QueueName    string        `env:"QUEUE_NAME" envDefault:"emotrack:jobs"`
	WorkerCount  int           `env:"WORKER_COUNT" envDefault:"4"`
	JobStatusTTL time.Duration `env:"JOB_STATUS_TTL" envDefault:"24h"`

	Analysis      AnalysisConfig
	Audio         AudioConfig
	Transcription TranscriptionConfig
	Encryption    EncryptionConfig
	Alerts        AlertConfig
	Events        EventConfig
}

type AnalysisConfig struct {
	Enabled           bool          `env:"ANALYSIS_ENABLED" envDefault:"false"`
	APIURL            string        `env:"ANALYSIS_API_URL" envDefault:"https://api.x.ai/v1/analysis"`
	APIKey            string        `env:"ANALYSIS_API_KEY"`
	Model             string        `env:"ANALYSIS_MODEL" envDefault:"grok-emotion"`
	Timeout           time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"10s"`
	MaxAttempts       int           `env:"ANALYSIS_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase       time.Duration `env:"ANALYSIS_BACKOFF_BASE" envDefault:"600ms"`
	BackoffMultiplier float64       `env:"ANALYSIS_BACKOFF_MULTIPLIER" envDefault:"1.8"`
	BackoffJitter     time.Duration `env:"ANALYSIS_BACKOFF_JITTER" envDefault:"200ms"`
}

// Configured reports whether the provider can actually be called.
func (c AnalysisConfig) Configured() bool {
	return c.Enabled && c.APIKey != "" && c.APIURL != ""
}

type AudioConfig struct {
	Dir                 string        `env:"AUDIO_DIR" envDefault:"uploads"`
	MaxSizeMB           int           `env:"AUDIO_MAX_SIZE_MB" envDefault:"50"`
	MaxDurationSec      float64       `env:"AUDIO_MAX_DURATION_SEC" envDefault:"300"`
	AllowedFormats      []string      `env:"AUDIO_ALLOWED_FORMATS" envDefault:"wav,mp3,m4a,webm,ogg" envSeparator:","`
	RetentionDays       int           `env:"AUDIO_RETENTION_DAYS" envDefault:"30"`
	EnableFeatures      bool          `env:"ENABLE_AUDIO_FEATURES" envDefault:"true"`
	EnableNormalization bool          `env:"ENABLE_AUDIO_NORMALIZATION" envDefault:"false"`
	EnableCompression   bool          `env:"ENABLE_AUDIO_COMPRESSION" envDefault:"false"`
	EnableProsodic      bool          `env:"ENABLE_PROSODIC_FEATURES" envDefault:"false"`
	ProsodyServiceURL   string        `env:"PROSODY_SERVICE_URL"`
	FFmpegPath          string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	ToolTimeout         time.Duration `env:"AUDIO_TOOL_TIMEOUT" envDefault:"60s"`
	CompressionBitrate  string        `env:"AUDIO_COMPRESSION_BITRATE" envDefault:"32k"`
	MinCompressionGain  float64       `env:"AUDIO_MIN_COMPRESSION_GAIN" envDefault:"0.2"`
}

func (c AudioConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

type TranscriptionConfig struct {
	Enabled     bool   `env:"ENABLE_TRANSCRIPTION" envDefault:"false"`
	Model       string `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	Language    string `env:"TRANSCRIPTION_LANGUAGE" envDefault:"es"`
	APIKey      string `env:"TRANSCRIPTION_API_KEY"`
	BaseURL     string `env:"TRANSCRIPTION_BASE_URL"`
	Cache       string `env:"TRANSCRIPTION_CACHE" envDefault:"memory"`
	CacheSize   int    `env:"TRANSCRIPTION_CACHE_SIZE" envDefault:"1024"`
	CachePrefix string `env:"TRANSCRIPTION_CACHE_PREFIX" envDefault:"emotrack:transcript:"`
	Mock        bool   `env:"USE_MOCK_TRANSCRIBE" envDefault:"false"`
}

type EncryptionConfig struct {
	Enabled bool   `env:"ENABLE_ENCRYPTION" envDefault:"false"`
	Key     string `env:"ENCRYPTION_KEY"`
}

type AlertConfig struct {
	IntensityHighThreshold float64       `env:"ALERT_INTENSITY_HIGH_THRESHOLD" envDefault:"0.8"`
	EmotionStreakLength    int           `env:"ALERT_EMOTION_STREAK_LENGTH" envDefault:"3"`
	AvgIntensityCount      int           `env:"ALERT_AVG_INTENSITY_COUNT" envDefault:"5"`
	AvgIntensityThreshold  float64       `env:"ALERT_AVG_INTENSITY_THRESHOLD" envDefault:"0.7"`
	DedupWindow            time.Duration `env:"ALERT_DEDUP_WINDOW" envDefault:"10m"`
	HistoryLimit           int           `env:"ALERT_HISTORY_LIMIT" envDefault:"50"`
	SeverityIntensityHigh  string        `env:"ALERT_SEVERITY_INTENSITY_HIGH" envDefault:"critical"`
	SeverityEmotionStreak  string        `env:"ALERT_SEVERITY_EMOTION_STREAK" envDefault:"warning"`
	SeverityAvgIntensity   string        `env:"ALERT_SEVERITY_AVG_INTENSITY_HIGH" envDefault:"warning"`
	RulesFile              string        `env:"ALERT_RULES_FILE"`
	DynamicConfig          bool          `env:"DYNAMIC_CONFIG_ENABLED" envDefault:"false"`
	SubjectLock            bool          `env:"ALERT_SUBJECT_LOCK" envDefault:"false"`
	SubjectLockTTL         time.Duration `env:"ALERT_SUBJECT_LOCK_TTL" envDefault:"10s"`
}

type EventConfig struct {
	Channel        string        `env:"EVENT_CHANNEL" envDefault:"emotrack:updates"`
	WebhookURLs    []string      `env:"EVENT_WEBHOOK_URLS" envSeparator:","`
	WebhookTimeout time.Duration `env:"EVENT_WEBHOOK_TIMEOUT" envDefault:"3s"`
}

// Load reads .env (if present) and the process environment, then applies
// the optional alert rules file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.QueueBackend = strings.ToLower(strings.TrimSpace(cfg.QueueBackend))
	for i, f := range cfg.Audio.AllowedFormats {
		cfg.Audio.AllowedFormats[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
	}

	if cfg.Alerts.RulesFile != "" {
		if err := cfg.Alerts.applyRulesFile(cfg.Alerts.RulesFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be >= 1, got %d", c.WorkerCount)
	}
	if c.Analysis.MaxAttempts < 1 {
		return fmt.Errorf("ANALYSIS_MAX_ATTEMPTS must be >= 1, got %d", c.Analysis.MaxAttempts)
	}
	switch c.QueueBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("QUEUE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	if c.Alerts.DedupWindow < 0 {
		return fmt.Errorf("ALERT_DEDUP_WINDOW must not be negative")
	}
	return nil
}

// RulesFile is the yaml document accepted by ALERT_RULES_FILE.
type RulesFile struct {
	IntensityHigh *struct {
		Threshold *float64 `yaml:"threshold"`
		Severity  string   `yaml:"severity"`
	} `yaml:"intensity_high"`
	EmotionStreak *struct {
		Length   *int   `yaml:"length"`
		Severity string `yaml:"severity"`
	} `yaml:"emotion_streak"`
	AvgIntensityHigh *struct {
		Count     *int     `yaml:"count"`
		Threshold *float64 `yaml:"threshold"`
		Severity  string   `yaml:"severity"`
	} `yaml:"avg_intensity_high"`
	DedupWindow string `yaml:"dedup_window"`
}

func (a *AlertConfig) applyRulesFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	return a.ApplyRules(raw)
}

// ApplyRules overlays a yaml rules document onto the alert config.
func (a *AlertConfig) ApplyRules(raw []byte) error {
	var rf RulesFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	if r := rf.IntensityHigh; r != nil {
		if r.Threshold != nil {
			a.IntensityHighThreshold = *r.Threshold
		}
		if r.Severity != "" {
			a.SeverityIntensityHigh = r.Severity
		}
	}
	if r := rf.EmotionStreak; r != nil {
		if r.Length != nil {
			a.EmotionStreakLength = *r.Length
		}
		if r.Severity != "" {
			a.SeverityEmotionStreak = r.Severity
		}
	}
	if r := rf.AvgIntensityHigh; r != nil {
		if r.Count != nil {
			a.AvgIntensityCount = *r.Count
		}
		if r.Threshold != nil {
			a.AvgIntensityThreshold = *r.Threshold
		}
		if r.Severity != "" {
			a.SeverityAvgIntensity = r.Severity
		}
	}
	if rf.DedupWindow != "" {
		d, err := time.ParseDuration(rf.DedupWindow)
		if err != nil {
			return fmt.Errorf("parse dedup_window: %w", err)
		}
		a.DedupWindow = d
	}
	return nil
}
