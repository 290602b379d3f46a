// Package provider normalizes heterogeneous bridge/swap integrations behind
// one quote/execute contract. The optimizer and the job state machine depend
// only on IRebalanceProvider and never on a concrete adapter.
package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
)

// apiTimeout caps every provider HTTP round trip so a hung remote API can
// never block a queue worker past it, deadline on the ctx or not.
const apiTimeout = 30 * time.Second

var (
	// ErrUnsupportedRoute means the provider cannot serve this token pair at
	// all. Not a failure; the optimizer just moves on.
	ErrUnsupportedRoute = errors.New("unsupported route")
	// ErrInsufficientLiquidity means the provider cannot fill the requested
	// amount.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrWalletMismatch means the quote was issued for a different wallet.
	// Unrecoverable: retrying cannot fix a mis-addressed quote.
	ErrWalletMismatch = errors.New("quote wallet does not match executing wallet")
	// ErrMissingQuoteAmounts means the remote quote response lacked required
	// amount fields.
	ErrMissingQuoteAmounts = errors.New("quote response missing amount fields")
)

// Unrecoverable reports whether err must abort a job chain without retries.
func Unrecoverable(err error) bool {
	return errors.Is(err, ErrWalletMismatch) || errors.Is(err, ErrUnsupportedRoute)
}

// AttestationHandle describes a pending cross-chain message whose settlement
// must be driven to completion by the job state machine.
type AttestationHandle struct {
	DestinationChainID uint64        `json:"destinationChainId"`
	MessageHash        common.Hash   `json:"messageHash"`
	MessageBody        hexutil.Bytes `json:"messageBody"`
	// DestinationSwap carries an opaque swap quote context for strategies
	// that finish with a destination-chain swap.
	DestinationSwap json.RawMessage `json:"destinationSwap,omitempty"`
}

// ExecutionResult is the outcome of submitting a quote's source leg.
type ExecutionResult struct {
	TxHash common.Hash
	// Pending means further hops remain; Attestation tells the job chain
	// what to poll.
	Pending     bool
	Attestation *AttestationHandle
}

// IRebalanceProvider is the uniform contract every integration implements.
type IRebalanceProvider interface {
	Strategy() entity.Strategy

	// GetQuote proposes exchanging swapAmount (smallest units of tokenIn)
	// into tokenOut. The returned quote embeds everything Execute needs.
	GetQuote(ctx context.Context, tokenIn, tokenOut entity.TokenData, swapAmount *big.Int) (*entity.RebalanceQuote, error)

	// Execute submits the quote's source-chain leg for walletAddress. It
	// must reject quotes issued for another wallet with ErrWalletMismatch.
	Execute(ctx context.Context, walletAddress common.Address, quote *entity.RebalanceQuote) (ExecutionResult, error)
}

// Registry maps strategy identifiers to their provider implementation.
type Registry struct {
	providers map[entity.Strategy]IRebalanceProvider
}

// NewRegistry indexes the given providers by strategy.
func NewRegistry(providers ...IRebalanceProvider) *Registry {
	m := make(map[entity.Strategy]IRebalanceProvider, len(providers))
	for _, p := range providers {
		m[p.Strategy()] = p
	}
	return &Registry{providers: m}
}

// Get returns the provider for a strategy.
func (r *Registry) Get(strategy entity.Strategy) (IRebalanceProvider, bool) {
	p, ok := r.providers[strategy]
	return p, ok
}

// All returns every provider in deterministic strategy order.
func (r *Registry) All() []IRebalanceProvider {
	all := make([]IRebalanceProvider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Strategy() < all[j].Strategy() })
	return all
}
