// Package analysis calls the external emotion-analysis provider and
// normalizes every outcome, including fallbacks, into types.AnalysisResult.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"emotrack-go/internal/config"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
	"emotrack-go/internal/types"
)

const ReasonDisabled = "disabled"

type Client struct {
	cfg        config.AnalysisConfig
	httpClient *http.Client
	log        *logger.Logger
	now        func() time.Time
}

func NewClient(cfg config.AnalysisConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Component("analysis-client"),
		now:        time.Now,
	}
}

// Analyze returns the provider analysis of text, or the local fallback when the
// provider is disabled or every attempt failed. The error is non-nil only when
// ctx was cancelled by the caller.
func (c *Client) Analyze(ctx context.Context, text string, features types.AudioFeatures) (types.AnalysisResult, error) {
	start := time.Now()
	if !c.cfg.Configured() {
		metrics.RecordAnalysis("disabled", time.Since(start).Seconds())
		metrics.RecordFallback(ReasonDisabled)
		return LocalAnalysis(text, features, ReasonDisabled, c.now()), nil
	}

	payload, err := json.Marshal(providerRequest{
		Model:          c.cfg.Model,
		Input:          text,
		Tasks:          []string{"emotion"},
		AudioFeatures:  nonNil(features),
		ResponseSchema: emotionSchema,
	})
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("marshal provider request: %w", err)
	}

	var (
		result     types.AnalysisResult
		lastReason string
		attempt    int
	)
	op := func() error {
		attempt++
		log := c.log.WithField("attempt", attempt)

		status, body, err := c.post(ctx, payload)
		if err != nil {
			lastReason = "exception:" + errorKind(err)
			log.WithError(err).Warn("analysis request failed")
			return err
		}

		switch {
		case status == http.StatusOK:
			if em, ok := parseEmotion(body); ok {
				result = c.fromProvider(em, text, features)
				return nil
			}
			lastReason = "unexpected_200"
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			lastReason = fmt.Sprintf("auth_error_%d", status)
			log.WithField("http_status", status).Error("analysis provider rejected credentials")
			return backoff.Permanent(errors.New(lastReason))
		case status == http.StatusTooManyRequests:
			lastReason = "rate_limited"
		case status >= 500:
			lastReason = fmt.Sprintf("server_%d", status)
		default:
			lastReason = fmt.Sprintf("unexpected_%d", status)
		}
		log.WithField("http_status", status).WithField("reason", lastReason).Warn("analysis attempt unsuccessful")
		return errors.New(lastReason)
	}

	retryErr := backoff.Retry(op, backoff.WithContext(c.backOff(), ctx))
	if retryErr == nil {
		metrics.RecordAnalysis("ok", time.Since(start).Seconds())
		return EnsureContract(result), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.AnalysisResult{}, ctxErr
	}

	if lastReason == "" {
		lastReason = "unknown"
	}
	c.log.WithField("reason", lastReason).WithField("attempts", attempt).Warn("analysis provider exhausted, using local fallback")
	metrics.RecordAnalysis("fallback", time.Since(start).Seconds())
	metrics.RecordFallback(lastReason)
	return LocalAnalysis(text, features, lastReason, c.now()), nil
}

func (c *Client) post(ctx context.Context, payload []byte) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) fromProvider(em *ProviderEmotion, text string, features types.AudioFeatures) types.AnalysisResult {
	primary := em.Primary
	if primary == "" {
		primary = em.Label
	}
	if primary == "" {
		primary = "Neutral"
	}
	intensity := 0.2
	if em.Intensity != nil {
		intensity = *em.Intensity
	}
	confidence := 0.5
	if em.Confidence != nil {
		confidence = *em.Confidence
	}
	polarity := em.Polarity
	if polarity == "" {
		polarity = DefaultPolarity
	}
	t := text
	res := types.AnalysisResult{
		PrimaryEmotion:    primary,
		Intensity:         intensity,
		Polarity:          polarity,
		Confidence:        confidence,
		Keywords:          append([]string{}, em.Keywords...),
		Transcript:        &t,
		ModelVersion:      "provider:" + c.cfg.Model,
		AnalysisTimestamp: c.now().UTC(),
	}
	if len(features) > 0 {
		res.AudioFeatures = features.Clone()
		res.ToneFeatures = ToneFromAudio(features)
	}
	return res
}

// backOff builds the retry schedule: base * multiplier^n plus additive jitter,
// capped at MaxAttempts total attempts.
func (c *Client) backOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.BackoffBase
	exp.Multiplier = c.cfg.BackoffMultiplier
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Minute
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = &jitterBackOff{BackOff: exp, jitter: c.cfg.BackoffJitter}
	return backoff.WithMaxRetries(b, uint64(max(c.cfg.MaxAttempts-1, 0)))
}

type jitterBackOff struct {
	backoff.BackOff
	jitter time.Duration
}

func (j *jitterBackOff) NextBackOff() time.Duration {
	next := j.BackOff.NextBackOff()
	if next == backoff.Stop || j.jitter <= 0 {
		return next
	}
	return next + rand.N(j.jitter)
}

func errorKind(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &netErr):
		return "connection"
	default:
		return "request"
	}
}

func nonNil(f types.AudioFeatures) types.AudioFeatures {
	if f == nil {
		return types.AudioFeatures{}
	}
	return f
}
