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

// DestinationSwapHandler runs the deferred destination swap of a
// bridge-then-swap route. The bridged USDC was already minted by the
// preceding mint step, so retries here only ever resubmit the swap.
type DestinationSwapHandler struct {
	swapper    provider.IRebalanceProvider
	rebalances RebalanceStore
	retry      *retrier.Retrier
	logger     *zap.Logger
}

// NewDestinationSwapHandler wires the final settlement leg. swapper is the
// provider that executes the deferred swap context.
func NewDestinationSwapHandler(
	swapper provider.IRebalanceProvider,
	rebalances RebalanceStore,
	retry *retrier.Retrier,
	logger *zap.Logger,
) *DestinationSwapHandler {
	return &DestinationSwapHandler{
		swapper:    swapper,
		rebalances: rebalances,
		retry:      retry,
		logger:     logger,
	}
}

func (h *DestinationSwapHandler) Process(ctx context.Context, job queue.Job) (queue.Result, error) {
	var payload DestinationSwapPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Done, errors.Wrap(err, "decode destination swap payload")
	}

	swapQuote := &entity.RebalanceQuote{
		Strategy:       h.swapper.Strategy(),
		Context:        payload.SwapContext,
		GroupID:        payload.GroupID,
		RebalanceJobID: payload.RebalanceJobID,
	}
	res, err := h.swapper.Execute(ctx, payload.WalletAddress, swapQuote)
	if err != nil {
		if provider.Unrecoverable(err) {
			return queue.Done, err
		}
		if job.Attempt <= h.retry.MaxRetries() {
			h.logger.Warn("destination swap failed, retrying",
				zap.String("rebalanceJobId", payload.RebalanceJobID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			return queue.Retry(h.retry.DelayFor(job.Attempt)), nil
		}
		return queue.Done, errors.Wrap(err, "destination swap exhausted retries")
	}

	if err := h.rebalances.UpdateStatus(payload.RebalanceJobID, entity.StatusCompleted); err != nil {
		return queue.Done, errors.Wrap(err, "mark rebalance completed")
	}

	h.logger.Info("destination swap settled",
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.Uint64("destinationChain", payload.DestinationChainID),
		zap.String("mintTxHash", payload.MintTxHash.Hex()),
		zap.String("swapTxHash", res.TxHash.Hex()))
	return queue.Done, nil
}

func (h *DestinationSwapHandler) OnFailed(_ context.Context, job queue.Job, jobErr error) {
	var payload DestinationSwapPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		h.logger.Error("destination swap failed with undecodable payload", zap.Error(jobErr))
		return
	}

	h.logger.Error("destination swap failed, minted funds stuck in USDC require manual recovery",
		zap.String("alert", "stranded_funds"),
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.String("groupId", payload.GroupID),
		zap.Uint64("destinationChain", payload.DestinationChainID),
		zap.String("mintTxHash", payload.MintTxHash.Hex()),
		zap.Error(jobErr))

	if err := h.rebalances.UpdateStatus(payload.RebalanceJobID, entity.StatusFailed); err != nil {
		h.logger.Error("failed to mark rebalance failed",
			zap.String("rebalanceJobId", payload.RebalanceJobID),
			zap.Error(err))
	}
}
