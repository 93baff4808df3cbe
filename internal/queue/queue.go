// Package queue schedules pipeline jobs and tracks their status.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull is returned by bounded queues instead of blocking the caller.
var ErrQueueFull = errors.New("queue is full")

type Kind string

const (
	KindAnalyze    Kind = "analyze"
	KindTranscribe Kind = "transcribe"
	KindSweepAudio Kind = "sweep_audio"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusUnknown Status = "UNKNOWN"
)

// Job is the payload of one unit of work.
type Job struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	ResponseID     int64     `json:"response_id,omitempty"`
	ChildID        *int64    `json:"child_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	AudioPath      string    `json:"audio_path,omitempty"`
	ForceIntensity *float64  `json:"force_intensity,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Queue is a FIFO of jobs plus a status registry. Enqueue assigns an id
// when the job has none and marks it PENDING.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (string, error)
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
	SetStatus(ctx context.Context, id string, status Status) error
	// Status returns StatusUnknown for ids it has never seen.
	Status(ctx context.Context, id string) (Status, error)
}
