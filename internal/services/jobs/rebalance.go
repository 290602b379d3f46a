package jobs

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/queue"
	"github.com/solvernet/rebalancer/internal/services/provider"
	"github.com/solvernet/rebalancer/pkg/retrier"
	"go.uber.org/zap"
)

// RebalanceStore is the job-status slice of the rebalance repository the
// handlers need.
type RebalanceStore interface {
	UpdateStatus(rebalanceJobID string, status entity.RebalanceStatus) error
}

// RebalanceHandler executes stored quotes. Synchronous strategies are
// terminal here; asynchronous ones hand off to the attestation handler and
// the job stays PENDING until the chain settles.
type RebalanceHandler struct {
	providers  *provider.Registry
	rebalances RebalanceStore
	queue      queue.Queue
	retry      *retrier.Retrier
	logger     *zap.Logger
}

// NewRebalanceHandler wires the execution handler.
func NewRebalanceHandler(
	providers *provider.Registry,
	rebalances RebalanceStore,
	q queue.Queue,
	retry *retrier.Retrier,
	logger *zap.Logger,
) *RebalanceHandler {
	return &RebalanceHandler{
		providers:  providers,
		rebalances: rebalances,
		queue:      q,
		retry:      retry,
		logger:     logger,
	}
}

func (h *RebalanceHandler) Process(ctx context.Context, job queue.Job) (queue.Result, error) {
	var payload RebalancePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Done, errors.Wrap(err, "decode rebalance payload")
	}

	prov, ok := h.providers.Get(payload.Strategy)
	if !ok {
		return queue.Done, errors.Errorf("no provider registered for strategy %s", payload.Strategy)
	}

	res, err := prov.Execute(ctx, payload.WalletAddress, payload.Quote())
	if err != nil {
		if provider.Unrecoverable(err) {
			return queue.Done, err
		}
		if job.Attempt <= h.retry.MaxRetries() {
			h.logger.Warn("rebalance execution failed, retrying",
				zap.String("rebalanceJobId", payload.RebalanceJobID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			return queue.Retry(h.retry.DelayFor(job.Attempt)), nil
		}
		return queue.Done, errors.Wrap(err, "rebalance execution exhausted retries")
	}

	if res.Pending {
		if res.Attestation == nil {
			return queue.Done, errors.New("provider reported pending without an attestation handle")
		}
		body, err := json.Marshal(NewAttestationPayload(payload, res.Attestation))
		if err != nil {
			return queue.Done, errors.Wrap(err, "encode attestation payload")
		}
		if err := h.queue.Enqueue(ctx, NameCheckAttestation, body, queue.Options{Delay: h.retry.DelayFor(1)}); err != nil {
			return queue.Done, errors.Wrap(err, "enqueue attestation check")
		}
		h.logger.Info("rebalance leg submitted, awaiting attestation",
			zap.String("rebalanceJobId", payload.RebalanceJobID),
			zap.String("strategy", string(payload.Strategy)),
			zap.String("txHash", res.TxHash.Hex()))
		return queue.Done, nil
	}

	if err := h.rebalances.UpdateStatus(payload.RebalanceJobID, entity.StatusCompleted); err != nil {
		return queue.Done, errors.Wrap(err, "mark rebalance completed")
	}

	h.logger.Info("rebalance completed",
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.String("strategy", string(payload.Strategy)),
		zap.String("txHash", res.TxHash.Hex()))
	return queue.Done, nil
}

// OnFailed terminalizes the job. Funds never left the wallet unless a
// pending handle was handed off, and hand-off returns success, so no
// stranded-funds alert is raised here.
func (h *RebalanceHandler) OnFailed(_ context.Context, job queue.Job, jobErr error) {
	var payload RebalancePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		h.logger.Error("rebalance failed with undecodable payload", zap.Error(jobErr))
		return
	}

	h.logger.Error("rebalance failed",
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.String("groupId", payload.GroupID),
		zap.String("strategy", string(payload.Strategy)),
		zap.Error(jobErr))

	if err := h.rebalances.UpdateStatus(payload.RebalanceJobID, entity.StatusFailed); err != nil {
		h.logger.Error("failed to mark rebalance failed",
			zap.String("rebalanceJobId", payload.RebalanceJobID),
			zap.Error(err))
	}
}
