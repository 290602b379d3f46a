// Package health derives a liveness signal for the rebalancing pipeline
// from persisted outcome counters.
package health

import "go.uber.org/zap"

// SuccessSource exposes recent successful-rebalance counters.
type SuccessSource interface {
	HasSuccessfulRebalancesInLastHour() bool
	RecentSuccessCount(minutes int) int
}

// RejectionSource exposes recent quote-rejection counters.
type RejectionSource interface {
	HasRejectionsInLastHour() bool
	RecentRejectionCount(minutes int) int
}

// Status is one health evaluation. The pipeline is DOWN only when quotes
// are being rejected and nothing has succeeded for an hour; a quiet system
// with no activity at all is healthy.
type Status struct {
	Healthy        bool   `json:"healthy"`
	SuccessCount   int    `json:"successCount"`
	RejectionCount int    `json:"rejectionCount"`
	Reason         string `json:"reason,omitempty"`
}

// Checker evaluates pipeline health from the two outcome stores. Reads are
// fail-closed: a broken store reads as zero activity, which can only make
// the verdict more optimistic, never flap it to DOWN.
type Checker struct {
	successes  SuccessSource
	rejections RejectionSource
	logger     *zap.Logger
}

// New creates a Checker.
func New(successes SuccessSource, rejections RejectionSource, logger *zap.Logger) *Checker {
	return &Checker{successes: successes, rejections: rejections, logger: logger}
}

// Check evaluates health over the trailing hour.
func (c *Checker) Check() Status {
	const windowMinutes = 60

	status := Status{
		Healthy:        true,
		SuccessCount:   c.successes.RecentSuccessCount(windowMinutes),
		RejectionCount: c.rejections.RecentRejectionCount(windowMinutes),
	}

	if c.rejections.HasRejectionsInLastHour() && !c.successes.HasSuccessfulRebalancesInLastHour() {
		status.Healthy = false
		status.Reason = "quotes rejected with no successful rebalances in the last hour"
		c.logger.Warn("rebalancing pipeline unhealthy",
			zap.Int("rejections", status.RejectionCount),
			zap.Int("successes", status.SuccessCount))
	}

	return status
}
