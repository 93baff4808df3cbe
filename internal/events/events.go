// Package events publishes best-effort pipeline lifecycle notifications.
// Publishing never fails the caller; subscribers must tolerate missing or
// reordered events.
package events

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"

	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
)

type Type string

const (
	TaskQueued             Type = "task_queued"
	AnalysisStarted        Type = "analysis_started"
	TranscriptionQueued    Type = "transcription_queued"
	TranscriptionCompleted Type = "transcription_completed"
	TaskCompleted          Type = "task_completed"
	AlertCreated           Type = "alert_created"
)

// Event is serialized as a flat JSON object carrying "type" plus Fields.
type Event struct {
	Type   Type
	Fields map[string]any
}

func New(t Type, fields map[string]any) Event {
	return Event{Type: t, Fields: fields}
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+1)
	maps.Copy(out, e.Fields)
	out["type"] = string(e.Type)
	return json.Marshal(out)
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}

// RedisPublisher publishes to a redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, log *logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, log: log.Component("events-redis")}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.WithError(err).WithField("event", e.Type).Warn("event not serializable")
		metrics.RecordPublish("redis", "error")
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.WithError(err).WithField("event", e.Type).WithField("reason", "publish_failed").Warn("event dropped")
		metrics.RecordPublish("redis", "error")
		return
	}
	metrics.RecordPublish("redis", "ok")
}

// WebhookPublisher POSTs each event to a fixed set of subscriber URLs.
type WebhookPublisher struct {
	client *resty.Client
	urls   []string
	log    *logger.Logger
}

func NewWebhookPublisher(urls []string, timeout time.Duration, log *logger.Logger) *WebhookPublisher {
	c := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "emotrack-events/1.0").
		SetTimeout(timeout)
	return &WebhookPublisher{client: c, urls: urls, log: log.Component("events-webhook")}
}

func (p *WebhookPublisher) Publish(ctx context.Context, e Event) {
	for _, u := range p.urls {
		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(e).
			Post(u)
		switch {
		case err != nil:
			p.log.WithError(err).WithField("url", u).WithField("event", e.Type).Warn("webhook delivery failed")
			metrics.RecordPublish("webhook", "error")
		case resp.IsError():
			p.log.WithField("url", u).WithField("status", resp.StatusCode()).WithField("event", e.Type).Warn("webhook rejected event")
			metrics.RecordPublish("webhook", "error")
		default:
			metrics.RecordPublish("webhook", "ok")
		}
	}
}

// Fanout delivers each event to every sink in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) {
	for _, p := range f {
		p.Publish(ctx, e)
	}
}
