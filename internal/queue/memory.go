package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a buffered-channel queue for single-process deployments.
// Enqueue fails with ErrQueueFull once the buffer is full.
type MemoryQueue struct {
	jobs chan Job

	mu       sync.RWMutex
	statuses map[string]Status
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		jobs:     make(chan Job, capacity),
		statuses: map[string]Status{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	q.mu.Lock()
	q.statuses[job.ID] = StatusPending
	q.mu.Unlock()

	// Workers enqueue follow-up jobs too, so a full buffer must not block.
	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
		q.mu.Lock()
		delete(q.statuses, job.ID)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) SetStatus(_ context.Context, id string, status Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses[id] = status
	return nil
}

func (q *MemoryQueue) Status(_ context.Context, id string) (Status, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if st, ok := q.statuses[id]; ok {
		return st, nil
	}
	return StatusUnknown, nil
}

// Len reports the number of jobs waiting.
func (q *MemoryQueue) Len() int { return len(q.jobs) }
