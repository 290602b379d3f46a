package queue

import (
	"context"

	"go.uber.org/zap"
)

// Guard prevents overlapping runs of designated critical periodic jobs, such
// as the balance-check reconciliation cron. For every other job name it is a
// no-op.
type Guard struct {
	queue    Queue
	critical map[string]struct{}
	logger   *zap.Logger
}

// NewGuard builds a guard over the given queue. Only job names listed in
// critical are ever throttled.
func NewGuard(q Queue, critical []string, logger *zap.Logger) *Guard {
	set := make(map[string]struct{}, len(critical))
	for _, name := range critical {
		set[name] = struct{}{}
	}
	return &Guard{queue: q, critical: set, logger: logger}
}

// AvoidConcurrency reports whether admitting a new run of jobName should be
// skipped because another instance of the same job is already waiting or
// active. Jobs of other names on the shared queue never suppress a run.
// Queue inspection failures admit the run; skipping reconciliation on a
// flaky queue read would starve it.
func (g *Guard) AvoidConcurrency(ctx context.Context, jobName string) bool {
	if _, ok := g.critical[jobName]; !ok {
		return false
	}

	waiting, err := g.queue.Waiting(ctx)
	if err != nil {
		g.logger.Warn("concurrency guard: waiting list unavailable", zap.Error(err))
		return false
	}
	for _, name := range waiting {
		if name == jobName {
			g.logger.Info("concurrency guard: job already waiting, skipping run",
				zap.String("job", jobName))
			return true
		}
	}

	active, err := g.queue.Active(ctx)
	if err != nil {
		g.logger.Warn("concurrency guard: active list unavailable", zap.Error(err))
		return false
	}
	for _, name := range active {
		if name == jobName {
			g.logger.Info("concurrency guard: job already active, skipping run",
				zap.String("job", jobName))
			return true
		}
	}

	return false
}
