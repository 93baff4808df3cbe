// Package audio validates, normalizes, compresses, describes and transcribes
// uploaded audio artifacts. Every step other than Validate degrades to the
// input reference instead of failing.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"emotrack-go/internal/config"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
	"emotrack-go/internal/types"
)

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

type Preprocessor struct {
	cfg         config.AudioConfig
	tcfg        config.TranscriptionConfig
	extractor   FeatureExtractor
	transcriber Transcriber
	cache       TranscriptCache
	run         commandRunner
	now         func() time.Time
	log         *logger.Logger
}

// NewPreprocessor wires the preprocessor. A nil extractor means no features;
// a nil transcriber disables transcription; a nil cache disables caching.
func NewPreprocessor(
	cfg config.AudioConfig,
	tcfg config.TranscriptionConfig,
	extractor FeatureExtractor,
	transcriber Transcriber,
	cache TranscriptCache,
	log *logger.Logger,
) *Preprocessor {
	if extractor == nil {
		extractor = NoopExtractor{}
	}
	return &Preprocessor{
		cfg:         cfg,
		tcfg:        tcfg,
		extractor:   extractor,
		transcriber: transcriber,
		cache:       cache,
		run:         execRunner,
		now:         time.Now,
		log:         log.Component("audio"),
	}
}

// FeaturesEnabled reports whether the audio stage should run at all.
func (p *Preprocessor) FeaturesEnabled() bool { return p.cfg.EnableFeatures }

// TranscriptionEnabled reports whether Transcribe can produce text.
func (p *Preprocessor) TranscriptionEnabled() bool {
	return p.tcfg.Enabled && p.transcriber != nil
}

// Normalize resamples to mono 16 kHz WAV. Already-normalized input, a
// disabled toggle, or a tool failure all return path unchanged.
func (p *Preprocessor) Normalize(ctx context.Context, path string) string {
	if !p.cfg.EnableNormalization {
		return path
	}
	if extension(path) == "wav" {
		if hdr, err := readWAVHeader(path); err == nil && hdr.isMono16k() {
			return path
		}
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_16k.wav"
	if err := p.tool(ctx, "-y", "-i", path, "-ac", "1", "-ar", "16000", out); err != nil {
		_ = os.Remove(out)
		p.log.WithError(err).WithField("path", path).WithField("reason", "normalize_failed").Warn("normalization skipped")
		metrics.RecordDegraded("normalize", "tool_failed")
		return path
	}
	if err := os.Remove(path); err != nil {
		p.log.WithError(err).WithField("path", path).Warn("could not remove original after normalization")
	}
	return out
}

// Compress re-encodes to a low-bitrate Opus file and keeps it only when it
// saves at least MinCompressionGain of the original size.
func (p *Preprocessor) Compress(ctx context.Context, path string) string {
	if !p.cfg.EnableCompression {
		return path
	}
	orig, err := os.Stat(path)
	if err != nil {
		return path
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_c.ogg"
	if err := p.tool(ctx, "-y", "-i", path, "-ac", "1", "-c:a", "libopus", "-b:a", p.cfg.CompressionBitrate, out); err != nil {
		_ = os.Remove(out)
		p.log.WithError(err).WithField("path", path).WithField("reason", "compress_failed").Warn("compression skipped")
		metrics.RecordDegraded("compress", "tool_failed")
		return path
	}

	comp, err := os.Stat(out)
	if err != nil || float64(comp.Size()) > float64(orig.Size())*(1-p.cfg.MinCompressionGain) {
		_ = os.Remove(out)
		p.log.WithField("path", path).WithField("reason", "insufficient_gain").Debug("compressed candidate discarded")
		return path
	}
	if err := os.Remove(path); err != nil {
		p.log.WithError(err).WithField("path", path).Warn("could not remove original after compression")
	}
	return out
}

func (p *Preprocessor) tool(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ToolTimeout)
	defer cancel()
	return p.run(ctx, p.cfg.FFmpegPath, args...)
}

// ExtractFeatures delegates to the configured strategy.
func (p *Preprocessor) ExtractFeatures(ctx context.Context, path string) (types.AudioFeatures, error) {
	f, err := p.extractor.Extract(ctx, path)
	if f == nil {
		f = types.AudioFeatures{}
	}
	return f, err
}

// Transcribe returns the transcript of path, consulting the cache first.
// Every failure is reported as ok=false.
func (p *Preprocessor) Transcribe(ctx context.Context, path string) (string, bool) {
	if !p.TranscriptionEnabled() {
		return "", false
	}
	log := p.log.WithField("path", path)

	key, err := CacheKey(path, p.tcfg.Model, p.tcfg.Language)
	if err != nil {
		log.WithError(err).Warn("transcription skipped: cannot hash audio")
		return "", false
	}
	if p.cache != nil {
		if text, ok := p.cache.Get(ctx, key); ok {
			metrics.RecordCacheHit(p.cache.Name())
			return text, true
		}
		metrics.RecordCacheMiss(p.cache.Name())
	}

	text, err := p.transcriber.Transcribe(ctx, path)
	if err != nil {
		log.WithError(err).WithField("reason", "transcriber_error").Warn("transcription failed")
		metrics.RecordDegraded("transcription", "transcriber_error")
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, key, text); err != nil {
			log.WithError(err).Warn("transcript not cached")
		}
	}
	return text, true
}

// SweepExpired deletes audio artifacts in the upload directory older than
// the retention window and returns how many were removed.
func (p *Preprocessor) SweepExpired(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read audio dir: %w", err)
	}

	cutoff := p.now().Add(-time.Duration(p.cfg.RetentionDays) * 24 * time.Hour)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if e.IsDir() || !p.isAudio(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(p.cfg.Dir, e.Name())
		if err := os.Remove(path); err != nil {
			p.log.WithError(err).WithField("path", path).Warn("could not delete expired audio")
			continue
		}
		removed++
	}
	metrics.RecordSwept(removed)
	p.log.WithField("removed", removed).Info("audio sweep finished")
	return removed, nil
}

func (p *Preprocessor) isAudio(name string) bool {
	ext := extension(name)
	return slices.Contains(p.cfg.AllowedFormats, ext) || ext == "ogg"
}
