// Package queue defines the narrow contract the rebalancer needs from its
// job queue: at-least-once delivery with per-job attempt counters and
// delayed re-enqueue. The engine never depends on a concrete queue beyond
// this interface; MemQueue is the in-process reference implementation.
package queue

import (
	"context"
	"time"
)

// Job is one delivery of a queued unit of work. Attempt counts deliveries of
// the same job id, starting at 1.
type Job struct {
	ID      string
	Name    string
	Payload []byte
	Attempt int
}

// Options control how a job is enqueued.
type Options struct {
	// Delay postpones delivery.
	Delay time.Duration
	// JobID correlates re-enqueued deliveries; generated when empty.
	JobID string
	// Attempt seeds the delivery counter for re-enqueued jobs.
	Attempt int
}

// Result is the handler's scheduling verdict for one delivery.
type Result struct {
	// Retry requests re-delivery of the same job after Delay.
	Retry bool
	Delay time.Duration
}

// Done signals a finished delivery.
var Done = Result{}

// Retry builds a re-delivery request with the given delay.
func Retry(delay time.Duration) Result {
	return Result{Retry: true, Delay: delay}
}

// Handler processes deliveries of one job name. When Process returns an
// error the queue gives up on the job and invokes OnFailed exactly once;
// terminal status writes and alerting belong there.
type Handler interface {
	Process(ctx context.Context, job Job) (Result, error)
	OnFailed(ctx context.Context, job Job, err error)
}

// Queue is the consumed job-queue contract.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload []byte, opts Options) error
	WaitingCount(ctx context.Context) (int, error)
	ActiveCount(ctx context.Context) (int, error)
	// Waiting returns the names of jobs not yet picked up by a worker.
	Waiting(ctx context.Context) ([]string, error)
	// Active returns the names of currently executing jobs.
	Active(ctx context.Context) ([]string, error)
}
