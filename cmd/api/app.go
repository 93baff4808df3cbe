package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"emotrack-go/internal/alerts"
	"emotrack-go/internal/analysis"
	"emotrack-go/internal/audio"
	"emotrack-go/internal/config"
	"emotrack-go/internal/crypto"
	"emotrack-go/internal/events"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/pipeline"
	"emotrack-go/internal/queue"
	"emotrack-go/internal/redisclient"
	"emotrack-go/internal/store"
	"emotrack-go/internal/transcription"
)

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	redis  *redis.Client
	store  store.UnitOfWork
	queue  queue.Queue
	audio  *audio.Preprocessor
	engine *alerts.Engine
	sealer *pipeline.Sealer
	orch   *pipeline.Orchestrator
	close  []func()
}

func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if cfg.RedisURL != "" {
		rdb, err := redisclient.New(ctx, cfg.RedisURL)
		switch {
		case err == nil:
			a.redis = rdb
			a.close = append(a.close, func() { _ = rdb.Close() })
		case cfg.QueueBackend == "redis":
			return nil, err
		default:
			log.WithError(err).Warn("redis unavailable, continuing without it")
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := store.Connect(store.DBConfig{DSN: cfg.DatabaseURL, MaxOpenConns: 20, MaxIdleConns: 5})
		if err != nil {
			return nil, err
		}
		if err := store.AutoMigrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		gs := store.NewGormStore(db)
		a.store = gs
		a.close = append(a.close, func() { _ = gs.Close() })
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		a.store = store.NewMemoryStore()
	}

	if cfg.QueueBackend == "redis" {
		a.queue = queue.NewRedisQueue(a.redis, cfg.QueueName, cfg.JobStatusTTL)
	} else {
		a.queue = queue.NewMemoryQueue(1024)
	}

	var cache audio.TranscriptCache
	if cfg.Transcription.Cache == "redis" && a.redis != nil {
		cache = audio.NewRedisCache(a.redis, cfg.Transcription.CachePrefix)
	} else {
		lru, err := audio.NewLRUCache(cfg.Transcription.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("transcript cache: %w", err)
		}
		cache = lru
	}
	a.audio = audio.NewPreprocessor(
		cfg.Audio,
		cfg.Transcription,
		audio.NewFeatureExtractor(cfg.Audio),
		transcription.FromConfig(cfg.Transcription, log),
		cache,
		log,
	)

	cipher, err := crypto.FromConfig(cfg.Encryption.Enabled, cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	if cfg.Encryption.Enabled && cipher == nil {
		log.Warn("ENABLE_ENCRYPTION set without ENCRYPTION_KEY, storing plaintext")
	}
	a.sealer = pipeline.NewSealer(cipher, log)

	var locker alerts.Locker
	if cfg.Alerts.SubjectLock {
		if a.redis != nil {
			locker = alerts.NewRedisLocker(a.redis, cfg.Alerts.SubjectLockTTL, log)
		} else {
			locker = alerts.NewLocalLocker()
		}
	}
	a.engine = alerts.NewEngine(cfg.Alerts, locker, log)

	a.orch = pipeline.New(pipeline.Deps{
		Store:    a.store,
		Audio:    a.audio,
		Analyzer: analysis.NewClient(cfg.Analysis, log),
		Engine:   a.engine,
		Events:   a.publisher(),
		Queue:    a.queue,
		Sealer:   a.sealer,
	}, log)
	return a, nil
}

func (a *app) publisher() events.Publisher {
	var sinks events.Fanout
	if a.redis != nil {
		sinks = append(sinks, events.NewRedisPublisher(a.redis, a.cfg.Events.Channel, a.log))
	}
	if len(a.cfg.Events.WebhookURLs) > 0 {
		sinks = append(sinks, events.NewWebhookPublisher(a.cfg.Events.WebhookURLs, a.cfg.Events.WebhookTimeout, a.log))
	}
	if len(sinks) == 0 {
		return events.Noop{}
	}
	return sinks
}

func (a *app) pool() *queue.Pool {
	p := queue.NewPool(a.queue, a.cfg.WorkerCount, a.log)
	a.orch.Register(p)
	return p
}

func (a *app) Close() {
	for i := len(a.close) - 1; i >= 0; i-- {
		a.close[i]()
	}
}
