package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emotrack-go/internal/logger"
)

func TestMemoryQueue_StatusLifecycle(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)

	st, err := q.Status(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st)

	id, err := q.Enqueue(ctx, Job{Kind: KindAnalyze, ResponseID: 1})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, _ = q.Status(ctx, id)
	assert.Equal(t, StatusPending, st)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, int64(1), job.ResponseID)
	assert.False(t, job.EnqueuedAt.IsZero())
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewMemoryQueue(1).Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_Dispatch(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	p := NewPool(q, 1, logger.Discard())

	p.Handle(KindAnalyze, func(context.Context, Job) error { return nil })
	p.Handle(KindTranscribe, func(context.Context, Job) error { return errors.New("boom") })
	p.Handle(KindSweepAudio, func(context.Context, Job) error { panic("kaboom") })

	tests := []struct {
		kind    Kind
		want    Status
		wantErr bool
	}{
		{KindAnalyze, StatusSuccess, false},
		{KindTranscribe, StatusFailure, true},
		{KindSweepAudio, StatusFailure, true},
		{Kind("unknown"), StatusFailure, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			id, err := q.Enqueue(ctx, Job{Kind: tt.kind})
			require.NoError(t, err)
			job, err := q.Dequeue(ctx)
			require.NoError(t, err)

			err = p.Dispatch(ctx, job)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			st, _ := q.Status(ctx, id)
			assert.Equal(t, tt.want, st)
		})
	}
}

func TestPool_RunProcessesUntilCancelled(t *testing.T) {
	q := NewMemoryQueue(16)
	p := NewPool(q, 3, logger.Discard())

	var processed int32
	p.Handle(KindAnalyze, func(context.Context, Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 10; i++ {
		_, err := q.Enqueue(context.Background(), Job{Kind: KindAnalyze})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 10 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestMemoryQueue_FullBufferFailsFast(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)

	_, err := q.Enqueue(ctx, Job{Kind: KindAnalyze})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, Job{ID: "overflow", Kind: KindAnalyze})
	assert.ErrorIs(t, err, ErrQueueFull)
	st, _ := q.Status(ctx, "overflow")
	assert.Equal(t, StatusUnknown, st)
	assert.Equal(t, 1, q.Len())
}

func TestPool_FollowUpEnqueueDoesNotBlockWorker(t *testing.T) {
	bg := context.Background()
	q := NewMemoryQueue(1)
	p := NewPool(q, 1, logger.Discard())
	p.Handle(KindAnalyze, func(ctx context.Context, _ Job) error {
		_, err := q.Enqueue(ctx, Job{Kind: KindTranscribe})
		return err
	})

	_, err := q.Enqueue(bg, Job{Kind: KindAnalyze})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.Dispatch(context.WithoutCancel(bg), Job{ID: "running", Kind: KindAnalyze})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("worker blocked on a full queue")
	}
	st, _ := q.Status(bg, "running")
	assert.Equal(t, StatusFailure, st)
}
