package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MemQueue is an in-process Queue with registered handlers and a worker pool.
// Delivery is at-least-once: a handler that requests Retry gets the same job
// id again with an incremented attempt counter.
type MemQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	waiting  []Job
	active   map[string]string // delivery id -> job name
	handlers map[string]Handler
	closed   bool

	logger *zap.Logger
}

// NewMemQueue creates an empty queue. Register handlers before Run.
func NewMemQueue(logger *zap.Logger) *MemQueue {
	q := &MemQueue{
		active:   make(map[string]string),
		handlers: make(map[string]Handler),
		logger:   logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Register binds a handler to a job name. Enqueueing a name without a
// handler fails at dispatch, not at enqueue, mirroring remote queues.
func (q *MemQueue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue schedules a job, optionally after a delay.
func (q *MemQueue) Enqueue(_ context.Context, name string, payload []byte, opts Options) error {
	job := Job{
		ID:      opts.JobID,
		Name:    name,
		Payload: payload,
		Attempt: opts.Attempt,
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() { q.push(job) })
		return nil
	}

	q.push(job)
	return nil
}

func (q *MemQueue) push(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.waiting = append(q.waiting, job)
	q.cond.Signal()
}

// WaitingCount returns the number of jobs not yet picked up by a worker.
func (q *MemQueue) WaitingCount(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting), nil
}

// Waiting returns the names of jobs not yet picked up by a worker.
func (q *MemQueue) Waiting(context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.waiting))
	for _, job := range q.waiting {
		names = append(names, job.Name)
	}
	return names, nil
}

// ActiveCount returns the number of jobs currently being processed.
func (q *MemQueue) ActiveCount(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active), nil
}

// Active returns the names of jobs currently being processed.
func (q *MemQueue) Active(context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.active))
	for _, name := range q.active {
		names = append(names, name)
	}
	return names, nil
}

// Run processes jobs with the given number of workers until ctx is done.
func (q *MemQueue) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		return errors.New("memqueue: workers must be positive")
	}

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	wg.Wait()

	return ctx.Err()
}

func (q *MemQueue) worker(ctx context.Context) {
	for {
		job, ok := q.pop()
		if !ok {
			return
		}
		q.dispatch(ctx, job)
	}
}

func (q *MemQueue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.waiting) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return Job{}, false
	}

	job := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active[job.ID] = job.Name
	return job, true
}

func (q *MemQueue) dispatch(ctx context.Context, job Job) {
	defer func() {
		q.mu.Lock()
		delete(q.active, job.ID)
		q.mu.Unlock()
	}()

	q.mu.Lock()
	handler, ok := q.handlers[job.Name]
	q.mu.Unlock()
	if !ok {
		q.logger.Error("memqueue: no handler registered", zap.String("job", job.Name))
		return
	}

	result, err := handler.Process(ctx, job)
	if err != nil {
		handler.OnFailed(ctx, job, err)
		return
	}

	if result.Retry {
		opts := Options{Delay: result.Delay, JobID: job.ID, Attempt: job.Attempt + 1}
		if err := q.Enqueue(ctx, job.Name, job.Payload, opts); err != nil {
			q.logger.Error("memqueue: re-enqueue failed",
				zap.String("job", job.Name), zap.Error(err))
		}
	}
}
