// Package transcription provides speech-to-text backends for the audio
// preprocessor.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"emotrack-go/internal/audio"
	"emotrack-go/internal/config"
	"emotrack-go/internal/logger"
)

const mockTranscript = "MOCK TRANSCRIPT: hoy me sentí contento en la escuela."

// OpenAITranscriber calls the audio transcription endpoint of an
// OpenAI-compatible API.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
	log      *logger.Logger
}

func NewOpenAITranscriber(cfg config.TranscriptionConfig, log *logger.Logger) *OpenAITranscriber {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAITranscriber{
		client:   &client,
		model:    cfg.Model,
		language: cfg.Language,
		log:      log.Component("transcription"),
	}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var text string
	op := func() error {
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		res, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
			File:     f,
			Model:    openai.AudioModel(t.model),
			Language: openai.String(t.language),
		})
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
				return backoff.Permanent(err)
			}
			t.log.WithError(err).Warn("transcription attempt failed")
			return err
		}
		text = res.Text
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", fmt.Errorf("transcribe %s: %w", path, err)
	}
	return text, nil
}

// MockTranscriber returns a fixed transcript without any network call.
type MockTranscriber struct{}

func (MockTranscriber) Transcribe(context.Context, string) (string, error) {
	return mockTranscript, nil
}

// FromConfig selects the backend, nil when transcription is disabled or has
// no credentials.
func FromConfig(cfg config.TranscriptionConfig, log *logger.Logger) audio.Transcriber {
	switch {
	case !cfg.Enabled:
		return nil
	case cfg.Mock:
		return MockTranscriber{}
	case cfg.APIKey == "":
		log.Component("transcription").Warn("ENABLE_TRANSCRIPTION set without TRANSCRIPTION_API_KEY; transcription disabled")
		return nil
	default:
		return NewOpenAITranscriber(cfg, log)
	}
}
