package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"emotrack-go/internal/logger"
)

// Locker serializes work on one key across workers.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// RedisLocker is a redsync mutex per key.
type RedisLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
	log *logger.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		rs:  redsync.New(goredis.NewPool(client)),
		ttl: ttl,
		log: log.Component("subject-lock"),
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.ttl))
	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			l.log.WithError(err).WithField("key", key).Error("Failed to unlock mutex")
		}
	}()
	return fn()
}

// LocalLocker serializes keys within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*sync.Mutex{}}
}

func (l *LocalLocker) WithLock(_ context.Context, key string, fn func() error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn()
}
