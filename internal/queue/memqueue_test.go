package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu       sync.Mutex
	attempts []int
	failures []error
	process  func(job Job) (Result, error)
}

func (h *recordingHandler) Process(_ context.Context, job Job) (Result, error) {
	h.mu.Lock()
	h.attempts = append(h.attempts, job.Attempt)
	h.mu.Unlock()
	return h.process(job)
}

func (h *recordingHandler) OnFailed(_ context.Context, _ Job, err error) {
	h.mu.Lock()
	h.failures = append(h.failures, err)
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() ([]int, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.attempts...), append([]error(nil), h.failures...)
}

func runQueue(t *testing.T, q *MemQueue) (context.CancelFunc, chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx, 2)
	}()
	return cancel, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestMemQueueDeliversJob(t *testing.T) {
	q := NewMemQueue(zap.NewNop())
	h := &recordingHandler{process: func(Job) (Result, error) { return Done, nil }}
	q.Register("work", h)

	cancel, done := runQueue(t, q)
	defer func() { cancel(); <-done }()

	require.NoError(t, q.Enqueue(context.Background(), "work", []byte("payload"), Options{}))

	waitFor(t, func() bool { attempts, _ := h.snapshot(); return len(attempts) == 1 })
	attempts, failures := h.snapshot()
	require.Equal(t, []int{1}, attempts)
	require.Empty(t, failures)
}

func TestMemQueueRetryIncrementsAttempt(t *testing.T) {
	q := NewMemQueue(zap.NewNop())
	h := &recordingHandler{}
	h.process = func(job Job) (Result, error) {
		if job.Attempt < 3 {
			return Retry(time.Millisecond), nil
		}
		return Done, nil
	}
	q.Register("poll", h)

	cancel, done := runQueue(t, q)
	defer func() { cancel(); <-done }()

	require.NoError(t, q.Enqueue(context.Background(), "poll", nil, Options{}))

	waitFor(t, func() bool { attempts, _ := h.snapshot(); return len(attempts) == 3 })
	attempts, _ := h.snapshot()
	require.Equal(t, []int{1, 2, 3}, attempts)
}

func TestMemQueueErrorInvokesOnFailedOnce(t *testing.T) {
	q := NewMemQueue(zap.NewNop())
	boom := errors.New("boom")
	h := &recordingHandler{process: func(Job) (Result, error) { return Done, boom }}
	q.Register("explode", h)

	cancel, done := runQueue(t, q)
	defer func() { cancel(); <-done }()

	require.NoError(t, q.Enqueue(context.Background(), "explode", nil, Options{}))

	waitFor(t, func() bool { _, failures := h.snapshot(); return len(failures) == 1 })
	time.Sleep(20 * time.Millisecond) // no further deliveries expected
	attempts, failures := h.snapshot()
	require.Len(t, attempts, 1)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], boom)
}

func TestMemQueueDelayedEnqueue(t *testing.T) {
	q := NewMemQueue(zap.NewNop())
	h := &recordingHandler{process: func(Job) (Result, error) { return Done, nil }}
	q.Register("later", h)

	cancel, done := runQueue(t, q)
	defer func() { cancel(); <-done }()

	start := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), "later", nil, Options{Delay: 50 * time.Millisecond}))

	waitFor(t, func() bool { attempts, _ := h.snapshot(); return len(attempts) == 1 })
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemQueueCounts(t *testing.T) {
	q := NewMemQueue(zap.NewNop())

	require.NoError(t, q.Enqueue(context.Background(), "idle", nil, Options{}))
	waiting, err := q.WaitingCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, waiting)

	names, err := q.Waiting(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"idle"}, names)

	active, err := q.ActiveCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, active)
}
