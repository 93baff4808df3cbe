package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
)

// Handler processes one job. A nil return marks the job SUCCESS.
type Handler func(ctx context.Context, job Job) error

// Pool runs a fixed number of workers pulling from a Queue and dispatching
// by job kind. Workers share nothing but the queue and the handlers.
type Pool struct {
	q        Queue
	workers  int
	handlers map[Kind]Handler
	log      *logger.Logger
}

func NewPool(q Queue, workers int, log *logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		q:        q,
		workers:  workers,
		handlers: map[Kind]Handler{},
		log:      log.Component("worker-pool"),
	}
}

// Handle registers h for kind. Must be called before Run.
func (p *Pool) Handle(kind Kind, h Handler) {
	p.handlers[kind] = h
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.loop(ctx, worker)
			return nil
		})
	}
	p.log.WithField("workers", p.workers).Info("worker pool started")
	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, worker int) {
	log := p.log.WithField("worker", worker)
	for {
		job, err := p.q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// A dequeued job runs to completion even if shutdown starts meanwhile.
		_ = p.Dispatch(context.WithoutCancel(ctx), job)
	}
}

// Dispatch runs one job synchronously, recording STARTED and the terminal
// status. Panics in handlers are converted into FAILURE.
func (p *Pool) Dispatch(ctx context.Context, job Job) (err error) {
	log := p.log.WithField("job_id", job.ID).WithField("kind", job.Kind)

	h, ok := p.handlers[job.Kind]
	if !ok {
		err = fmt.Errorf("no handler for job kind %q", job.Kind)
		p.finish(ctx, job, err)
		log.WithError(err).Error("job dropped")
		return err
	}

	p.setStatus(ctx, job.ID, StatusStarted)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			log.WithField("stack", string(debug.Stack())).WithError(err).Error("job panicked")
		}
		p.finish(ctx, job, err)
		log.WithField("duration_ms", time.Since(start).Milliseconds()).WithField("ok", err == nil).Info("job finished")
	}()

	return h(ctx, job)
}

func (p *Pool) finish(ctx context.Context, job Job, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	p.setStatus(ctx, job.ID, status)
	metrics.RecordTask(string(job.Kind), string(status))
}

func (p *Pool) setStatus(ctx context.Context, id string, st Status) {
	if id == "" {
		return
	}
	if err := p.q.SetStatus(ctx, id, st); err != nil && !errors.Is(err, context.Canceled) {
		p.log.WithError(err).WithField("job_id", id).Warn("could not record job status")
	}
}
