// Package queue carries observed query executions from the hot path to a
// background aggregation worker. Two implementations are provided: an
// in-process channel queue for single-binary deployments and a Redis
// Streams queue for shared deployments where multiple application
// processes feed one analyzer.
package queue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the queue cannot accept the job
// within the caller's deadline. Callers fall back to inline processing.
var ErrQueueFull = errors.New("queue full")

// Job is one observed query execution awaiting aggregation.
type Job struct {
	ID         string    `msgpack:"id"`
	Hash       string    `msgpack:"hash"`
	Query      string    `msgpack:"query"`
	ElapsedMs  float64   `msgpack:"elapsed_ms"`
	EnqueuedAt time.Time `msgpack:"enqueued_at"`
}

// NewJob builds a job with a fresh id and enqueue timestamp.
func NewJob(hash, query string, elapsedMs float64) Job {
	return Job{
		ID:         uuid.NewString(),
		Hash:       hash,
		Query:      query,
		ElapsedMs:  elapsedMs,
		EnqueuedAt: time.Now(),
	}
}

// Handler processes one dequeued job.
type Handler func(ctx context.Context, job Job) error

// Queue hands observation jobs to background workers.
type Queue interface {
	// Enqueue submits a job. It returns ErrQueueFull when the queue cannot
	// accept the job before ctx is done.
	Enqueue(ctx context.Context, job Job) error
	// Start launches the worker loop feeding handler. It is idempotent.
	Start(handler Handler) error
	// Close stops the workers and waits for in-flight jobs to finish.
	Close() error
}
