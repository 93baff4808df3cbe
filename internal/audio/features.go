package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"emotrack-go/internal/config"
	"emotrack-go/internal/types"
)

// FeatureExtractor derives named scalar features from an audio file.
// Implementations return a non-nil map; on error the map holds whatever
// was extracted before the failure.
type FeatureExtractor interface {
	Extract(ctx context.Context, path string) (types.AudioFeatures, error)
}

// NoopExtractor is selected when feature extraction is disabled.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string) (types.AudioFeatures, error) {
	return types.AudioFeatures{}, nil
}

// DurationExtractor reports duration_sec for WAV files and nothing for
// formats that need decoding.
type DurationExtractor struct{}

func (DurationExtractor) Extract(_ context.Context, path string) (types.AudioFeatures, error) {
	out := types.AudioFeatures{}
	if extension(path) != "wav" {
		return out, nil
	}
	hdr, err := readWAVHeader(path)
	if err != nil {
		return out, nil
	}
	if d := hdr.Duration(); d > 0 {
		out["duration_sec"] = d
	}
	return out, nil
}

// RemoteExtractor asks a prosody sidecar for pitch, energy, spectral and
// pause features.
type RemoteExtractor struct {
	client *resty.Client
}

func NewRemoteExtractor(baseURL string, timeout time.Duration) *RemoteExtractor {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &RemoteExtractor{client: c}
}

type prosodyResponse struct {
	Features map[string]float64 `json:"features"`
	Error    string             `json:"error,omitempty"`
}

func (e *RemoteExtractor) Extract(ctx context.Context, path string) (types.AudioFeatures, error) {
	var body prosodyResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&body).
		Post("/features")
	if err != nil {
		return types.AudioFeatures{}, fmt.Errorf("prosody request: %w", err)
	}
	if resp.IsError() {
		return types.AudioFeatures{}, fmt.Errorf("prosody status %d: %s", resp.StatusCode(), resp.String())
	}
	if body.Error != "" {
		return types.AudioFeatures{}, fmt.Errorf("prosody: %s", body.Error)
	}
	out := make(types.AudioFeatures, len(body.Features))
	for k, v := range body.Features {
		out[k] = v
	}
	return out, nil
}

// Chain merges the output of several extractors, later ones winning on
// key collisions. Errors are joined but never discard earlier features.
type Chain []FeatureExtractor

func (c Chain) Extract(ctx context.Context, path string) (types.AudioFeatures, error) {
	out := types.AudioFeatures{}
	var errs []error
	for _, ex := range c {
		f, err := ex.Extract(ctx, path)
		for k, v := range f {
			out[k] = v
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// NewFeatureExtractor picks the extraction strategy from config.
func NewFeatureExtractor(cfg config.AudioConfig) FeatureExtractor {
	if !cfg.EnableFeatures {
		return NoopExtractor{}
	}
	if cfg.EnableProsodic && cfg.ProsodyServiceURL != "" {
		return Chain{DurationExtractor{}, NewRemoteExtractor(cfg.ProsodyServiceURL, cfg.ToolTimeout)}
	}
	return DurationExtractor{}
}
