package jobs

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/queue"
	"github.com/solvernet/rebalancer/pkg/retrier"
	"go.uber.org/zap"
)

// ExecuteMintHandler submits the attested burn message on the destination
// chain. Minting is a separate job step so a failing destination swap never
// redelivers an already-mined receiveMessage transaction.
type ExecuteMintHandler struct {
	bridge     Bridger
	rebalances RebalanceStore
	queue      queue.Queue
	retry      *retrier.Retrier
	logger     *zap.Logger
}

// NewExecuteMintHandler wires the mint step of the settlement chain.
func NewExecuteMintHandler(
	bridge Bridger,
	rebalances RebalanceStore,
	q queue.Queue,
	retry *retrier.Retrier,
	logger *zap.Logger,
) *ExecuteMintHandler {
	return &ExecuteMintHandler{
		bridge:     bridge,
		rebalances: rebalances,
		queue:      q,
		retry:      retry,
		logger:     logger,
	}
}

func (h *ExecuteMintHandler) Process(ctx context.Context, job queue.Job) (queue.Result, error) {
	var payload MintPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Done, errors.Wrap(err, "decode mint payload")
	}

	txHash, err := h.bridge.ReceiveMessage(ctx, payload.DestinationChainID, payload.MessageBody, payload.Attestation)
	if err != nil {
		if job.Attempt <= h.retry.MaxRetries() {
			h.logger.Warn("mint failed, retrying",
				zap.String("rebalanceJobId", payload.RebalanceJobID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			return queue.Retry(h.retry.DelayFor(job.Attempt)), nil
		}
		return queue.Done, errors.Wrap(err, "mint exhausted retries")
	}

	if len(payload.DestinationSwap) > 0 {
		body, err := json.Marshal(DestinationSwapPayload{
			WalletAddress:      payload.WalletAddress,
			GroupID:            payload.GroupID,
			RebalanceJobID:     payload.RebalanceJobID,
			DestinationChainID: payload.DestinationChainID,
			MintTxHash:         txHash,
			SwapContext:        payload.DestinationSwap,
		})
		if err != nil {
			return queue.Done, errors.Wrap(err, "encode destination swap payload")
		}
		if err := h.queue.Enqueue(ctx, NameDestinationSwap, body, queue.Options{}); err != nil {
			return queue.Done, errors.Wrap(err, "enqueue destination swap")
		}
		h.logger.Info("mint submitted, destination swap queued",
			zap.String("rebalanceJobId", payload.RebalanceJobID),
			zap.Uint64("destinationChain", payload.DestinationChainID),
			zap.String("mintTxHash", txHash.Hex()))
		return queue.Done, nil
	}

	if err := h.rebalances.UpdateStatus(payload.RebalanceJobID, entity.StatusCompleted); err != nil {
		return queue.Done, errors.Wrap(err, "mark rebalance completed")
	}

	h.logger.Info("bridge transfer settled",
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.Uint64("destinationChain", payload.DestinationChainID),
		zap.String("txHash", txHash.Hex()))
	return queue.Done, nil
}

func (h *ExecuteMintHandler) OnFailed(_ context.Context, job queue.Job, jobErr error) {
	var payload MintPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		h.logger.Error("mint failed with undecodable payload", zap.Error(jobErr))
		return
	}

	h.logger.Error("mint failed, funds burned on source chain require manual recovery",
		zap.String("alert", "stranded_funds"),
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.String("groupId", payload.GroupID),
		zap.Uint64("destinationChain", payload.DestinationChainID),
		zap.Error(jobErr))

	if err := h.rebalances.UpdateStatus(payload.RebalanceJobID, entity.StatusFailed); err != nil {
		h.logger.Error("failed to mark rebalance failed",
			zap.String("rebalanceJobId", payload.RebalanceJobID),
			zap.Error(err))
	}
}
