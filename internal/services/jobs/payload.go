// Package jobs holds the queue handlers that drive the rebalancing state
// machine: the periodic balance check, quote execution and the settlement
// legs of asynchronous bridge transfers.
package jobs

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/services/provider"
)

// Job names registered on the queue.
const (
	NameCheckBalances    = "check-balances"
	NameRebalance        = "rebalance"
	NameCheckAttestation = "check-cctp-attestation"
	NameExecuteMint      = "execute-cctp-mint"
	NameDestinationSwap  = "destination-swap"
)

// TokenRef is the serializable projection of a token carried in payloads.
// Balances are deliberately absent; they are stale the moment a job is
// queued and handlers must never trust them.
type TokenRef struct {
	ChainID  uint64           `json:"chainId"`
	Address  common.Address   `json:"address"`
	Type     entity.TokenType `json:"type"`
	Decimals uint8            `json:"decimals"`
}

func tokenRef(t entity.TokenData) TokenRef {
	return TokenRef{
		ChainID:  t.Config.ChainID,
		Address:  t.Config.Address,
		Type:     t.Config.Type,
		Decimals: t.Config.Decimals,
	}
}

// Data rebuilds a TokenData shell for provider calls.
func (r TokenRef) Data() entity.TokenData {
	return entity.TokenData{Config: entity.TokenConfig{
		ChainID:  r.ChainID,
		Address:  r.Address,
		Type:     r.Type,
		Decimals: r.Decimals,
	}}
}

// RebalancePayload carries one stored quote to the execution handler.
type RebalancePayload struct {
	WalletAddress  common.Address  `json:"walletAddress"`
	GroupID        string          `json:"groupId"`
	RebalanceJobID string          `json:"rebalanceJobId"`
	Strategy       entity.Strategy `json:"strategy"`
	TokenIn        TokenRef        `json:"tokenIn"`
	TokenOut       TokenRef        `json:"tokenOut"`
	AmountIn       *big.Int        `json:"amountIn"`
	AmountOut      *big.Int        `json:"amountOut"`
	Slippage       decimal.Decimal `json:"slippage"`
	Context        json.RawMessage `json:"context"`
}

// NewRebalancePayload snapshots a stored quote for queueing.
func NewRebalancePayload(wallet common.Address, quote *entity.RebalanceQuote) RebalancePayload {
	return RebalancePayload{
		WalletAddress:  wallet,
		GroupID:        quote.GroupID,
		RebalanceJobID: quote.RebalanceJobID,
		Strategy:       quote.Strategy,
		TokenIn:        tokenRef(quote.TokenIn),
		TokenOut:       tokenRef(quote.TokenOut),
		AmountIn:       quote.AmountIn,
		AmountOut:      quote.AmountOut,
		Slippage:       quote.Slippage,
		Context:        quote.Context,
	}
}

// Quote rehydrates the payload into the quote shape providers execute.
func (p RebalancePayload) Quote() *entity.RebalanceQuote {
	return &entity.RebalanceQuote{
		TokenIn:        p.TokenIn.Data(),
		TokenOut:       p.TokenOut.Data(),
		AmountIn:       p.AmountIn,
		AmountOut:      p.AmountOut,
		Slippage:       p.Slippage,
		Strategy:       p.Strategy,
		Context:        p.Context,
		GroupID:        p.GroupID,
		RebalanceJobID: p.RebalanceJobID,
	}
}

// AttestationPayload tracks one burned bridge message awaiting attestation.
type AttestationPayload struct {
	WalletAddress      common.Address  `json:"walletAddress"`
	GroupID            string          `json:"groupId"`
	RebalanceJobID     string          `json:"rebalanceJobId"`
	DestinationChainID uint64          `json:"destinationChainId"`
	MessageHash        common.Hash     `json:"messageHash"`
	MessageBody        hexutil.Bytes   `json:"messageBody"`
	DestinationSwap    json.RawMessage `json:"destinationSwap,omitempty"`
}

// NewAttestationPayload folds an execution handle into a queueable payload.
func NewAttestationPayload(p RebalancePayload, handle *provider.AttestationHandle) AttestationPayload {
	return AttestationPayload{
		WalletAddress:      p.WalletAddress,
		GroupID:            p.GroupID,
		RebalanceJobID:     p.RebalanceJobID,
		DestinationChainID: handle.DestinationChainID,
		MessageHash:        handle.MessageHash,
		MessageBody:        handle.MessageBody,
		DestinationSwap:    handle.DestinationSwap,
	}
}

// MintPayload carries an attested burn message to the mint step. The
// optional DestinationSwap context rides along so the mint handler knows
// whether a swap job follows.
type MintPayload struct {
	WalletAddress      common.Address  `json:"walletAddress"`
	GroupID            string          `json:"groupId"`
	RebalanceJobID     string          `json:"rebalanceJobId"`
	DestinationChainID uint64          `json:"destinationChainId"`
	MessageBody        hexutil.Bytes   `json:"messageBody"`
	Attestation        hexutil.Bytes   `json:"attestation"`
	DestinationSwap    json.RawMessage `json:"destinationSwap,omitempty"`
}

// DestinationSwapPayload carries the deferred destination swap of a
// bridge-then-swap route. The mint already happened in the previous step;
// MintTxHash is informational only.
type DestinationSwapPayload struct {
	WalletAddress      common.Address  `json:"walletAddress"`
	GroupID            string          `json:"groupId"`
	RebalanceJobID     string          `json:"rebalanceJobId"`
	DestinationChainID uint64          `json:"destinationChainId"`
	MintTxHash         common.Hash     `json:"mintTxHash"`
	SwapContext        json.RawMessage `json:"swapContext"`
}
