package jobs

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/queue"
	"github.com/solvernet/rebalancer/internal/services/provider"
	"github.com/solvernet/rebalancer/pkg/retrier"
	"go.uber.org/zap"
)

// Bridger is the CCTP surface the settlement handlers consume.
type Bridger interface {
	FetchAttestation(ctx context.Context, messageHash common.Hash) (provider.AttestationResult, error)
	ReceiveMessage(ctx context.Context, destinationChainID uint64, messageBody, attestation []byte) (common.Hash, error)
}

// CheckAttestationHandler polls the attestation service for a burned bridge
// message. Funds are already burned on the source chain when this handler
// runs, so every failure path here reports stranded funds.
type CheckAttestationHandler struct {
	bridge     Bridger
	rebalances RebalanceStore
	queue      queue.Queue
	retry      *retrier.Retrier
	logger     *zap.Logger
}

// NewCheckAttestationHandler wires the attestation poller.
func NewCheckAttestationHandler(
	bridge Bridger,
	rebalances RebalanceStore,
	q queue.Queue,
	retry *retrier.Retrier,
	logger *zap.Logger,
) *CheckAttestationHandler {
	return &CheckAttestationHandler{
		bridge:     bridge,
		rebalances: rebalances,
		queue:      q,
		retry:      retry,
		logger:     logger,
	}
}

func (h *CheckAttestationHandler) Process(ctx context.Context, job queue.Job) (queue.Result, error) {
	var payload AttestationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Done, errors.Wrap(err, "decode attestation payload")
	}

	result, err := h.bridge.FetchAttestation(ctx, payload.MessageHash)
	if err != nil {
		if job.Attempt <= h.retry.MaxRetries() {
			h.logger.Warn("attestation poll failed, retrying",
				zap.String("messageHash", payload.MessageHash.Hex()),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			return queue.Retry(h.retry.DelayFor(job.Attempt)), nil
		}
		return queue.Done, errors.Wrap(err, "attestation polling exhausted retries")
	}

	switch result.Status {
	case provider.AttestationPending:
		if job.Attempt > h.retry.MaxRetries() {
			return queue.Done, errors.Errorf("attestation still pending after %d polls", job.Attempt)
		}
		h.logger.Debug("attestation pending",
			zap.String("messageHash", payload.MessageHash.Hex()),
			zap.Int("attempt", job.Attempt))
		return queue.Retry(h.retry.DelayFor(job.Attempt)), nil

	case provider.AttestationFailed:
		return queue.Done, errors.Wrapf(provider.ErrAttestationFailed, "message %s", payload.MessageHash.Hex())

	case provider.AttestationComplete:
		return h.settle(ctx, payload, result.Attestation)

	default:
		return queue.Done, errors.Errorf("unknown attestation status %q", result.Status)
	}
}

// settle hands the attested message to the mint step. Minting lives in its
// own job so a retry of any later step never resubmits receiveMessage.
func (h *CheckAttestationHandler) settle(ctx context.Context, payload AttestationPayload, attestation []byte) (queue.Result, error) {
	body, err := json.Marshal(MintPayload{
		WalletAddress:      payload.WalletAddress,
		GroupID:            payload.GroupID,
		RebalanceJobID:     payload.RebalanceJobID,
		DestinationChainID: payload.DestinationChainID,
		MessageBody:        payload.MessageBody,
		Attestation:        attestation,
		DestinationSwap:    payload.DestinationSwap,
	})
	if err != nil {
		return queue.Done, errors.Wrap(err, "encode mint payload")
	}
	if err := h.queue.Enqueue(ctx, NameExecuteMint, body, queue.Options{}); err != nil {
		return queue.Done, errors.Wrap(err, "enqueue mint")
	}

	h.logger.Info("attestation complete, mint queued",
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.String("messageHash", payload.MessageHash.Hex()),
		zap.Uint64("destinationChain", payload.DestinationChainID))
	return queue.Done, nil
}

func (h *CheckAttestationHandler) OnFailed(_ context.Context, job queue.Job, jobErr error) {
	var payload AttestationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		h.logger.Error("attestation check failed with undecodable payload", zap.Error(jobErr))
		return
	}

	h.logger.Error("bridge settlement failed, funds burned on source chain require manual recovery",
		zap.String("alert", "stranded_funds"),
		zap.String("rebalanceJobId", payload.RebalanceJobID),
		zap.String("groupId", payload.GroupID),
		zap.String("messageHash", payload.MessageHash.Hex()),
		zap.Uint64("destinationChain", payload.DestinationChainID),
		zap.Error(jobErr))

	if err := h.rebalances.UpdateStatus(payload.RebalanceJobID, entity.StatusFailed); err != nil {
		h.logger.Error("failed to mark rebalance failed",
			zap.String("rebalanceJobId", payload.RebalanceJobID),
			zap.Error(err))
	}
}
