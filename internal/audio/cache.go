package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// TranscriptCache maps a content-addressed key to a transcript. Entries
// never expire in-process; artifact retention is handled by SweepExpired.
type TranscriptCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, transcript string) error
	Name() string
}

// CacheKey derives the cache key from the file bytes, model and language.
func CacheKey(path, model, language string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash audio: %w", err)
	}
	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(h.Sum(nil)), model, language), nil
}

type LRUCache struct {
	entries *lru.Cache
}

func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: c}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) (string, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c *LRUCache) Set(_ context.Context, key, transcript string) error {
	c.entries.Add(key, transcript)
	return nil
}

func (c *LRUCache) Name() string { return "memory" }

// RedisCache shares transcripts between workers. Keys carry no TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key, transcript string) error {
	if err := c.client.Set(ctx, c.prefix+key, transcript, 0).Err(); err != nil {
		return fmt.Errorf("redis set transcript: %w", err)
	}
	return nil
}

func (c *RedisCache) Name() string { return "redis" }
