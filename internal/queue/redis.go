package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pollTimeout = 2 * time.Second

// RedisQueue keeps jobs in a redis list (LPUSH/BRPOP) and statuses in
// per-job keys that expire after statusTTL.
type RedisQueue struct {
	client    *redis.Client
	key       string
	statusTTL time.Duration
}

func NewRedisQueue(client *redis.Client, key string, statusTTL time.Duration) *RedisQueue {
	return &RedisQueue{client: client, key: key, statusTTL: statusTTL}
}

func (q *RedisQueue) statusKey(id string) string {
	return q.key + ":status:" + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.statusKey(job.ID), string(StatusPending), q.statusTTL)
	pipe.LPush(ctx, q.key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("dequeue job: %w", err)
		}
		// res is [key, value]
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) SetStatus(ctx context.Context, id string, status Status) error {
	if err := q.client.Set(ctx, q.statusKey(id), string(status), q.statusTTL).Err(); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

func (q *RedisQueue) Status(ctx context.Context, id string) (Status, error) {
	v, err := q.client.Get(ctx, q.statusKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("get job status: %w", err)
	}
	return Status(v), nil
}
