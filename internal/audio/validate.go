package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"emotrack-go/internal/types"
)

// ErrInvalidAudio is matched by every *ValidationError.
var ErrInvalidAudio = errors.New("invalid audio")

const (
	ReasonMissing          = "missing"
	ReasonTooLarge         = "too_large"
	ReasonFormatNotAllowed = "format_not_allowed"
	ReasonTooLong          = "too_long"
)

type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid audio: %s", e.Detail)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidAudio
}

func invalid(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Validate checks an uploaded artifact against the configured limits and
// returns its descriptor. sizeBytes is the declared upload size; a negative
// value means "stat the file". Duration is only checked when the content
// sniffs as WAV, the one format readable without decoding.
func (p *Preprocessor) Validate(path string, sizeBytes int64) (*types.AudioArtifact, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, invalid(ReasonMissing, "file not found: %s", filepath.Base(path))
	}
	if sizeBytes < 0 {
		sizeBytes = info.Size()
	}
	if limit := p.cfg.MaxSizeBytes(); limit > 0 && sizeBytes > limit {
		return nil, invalid(ReasonTooLarge, "file too large: %d bytes exceeds %d MB", sizeBytes, p.cfg.MaxSizeMB)
	}

	ext := extension(path)
	if !slices.Contains(p.cfg.AllowedFormats, ext) {
		return nil, invalid(ReasonFormatNotAllowed, "format not allowed: .%s (allowed: %s)", ext, strings.Join(p.cfg.AllowedFormats, ", "))
	}

	artifact := &types.AudioArtifact{Path: path, Format: ext}

	mtype, err := mimetype.DetectFile(path)
	if err != nil || !mtype.Is("audio/wav") {
		return artifact, nil
	}
	hdr, err := readWAVHeader(path)
	if err != nil {
		return artifact, nil
	}
	dur := hdr.Duration()
	if p.cfg.MaxDurationSec > 0 && dur > p.cfg.MaxDurationSec {
		return nil, invalid(ReasonTooLong, "audio too long: %.1fs exceeds %.0fs", dur, p.cfg.MaxDurationSec)
	}
	artifact.DurationSec = &dur
	return artifact, nil
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
