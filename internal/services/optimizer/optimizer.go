// Package optimizer picks the cheapest viable route for each deficit token
// and records why every discarded candidate was discarded.
package optimizer

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/services/provider"
	"go.uber.org/zap"
)

// JobStore persists rebalance jobs.
type JobStore interface {
	Create(job entity.RebalanceJob) error
}

// RejectionStore records quote rejection telemetry.
type RejectionStore interface {
	Create(rejection entity.RebalanceQuoteRejection) error
}

// Optimizer plans rebalances for deficit tokens out of surplus candidates.
// Quote failures degrade a cycle, never abort it; the only hard failure in
// this package is persisting the jobs themselves.
type Optimizer struct {
	providers    *provider.Registry
	jobs         JobStore
	rejections   RejectionStore
	maxSlippage  decimal.Decimal
	minTrade     *big.Int
	quoteTimeout time.Duration
	logger       *zap.Logger
}

// New creates an Optimizer.
func New(
	providers *provider.Registry,
	jobs JobStore,
	rejections RejectionStore,
	maxSlippage decimal.Decimal,
	minTrade *big.Int,
	quoteTimeout time.Duration,
	logger *zap.Logger,
) *Optimizer {
	if minTrade == nil {
		minTrade = new(big.Int)
	}
	return &Optimizer{
		providers:    providers,
		jobs:         jobs,
		rejections:   rejections,
		maxSlippage:  maxSlippage,
		minTrade:     minTrade,
		quoteTimeout: quoteTimeout,
		logger:       logger,
	}
}

// GetOptimizedRebalancing plans transfers that lift deficitToken back inside
// its band. Same-chain surplus candidates are consumed first; cross-chain
// routes are considered only if same-chain supply cannot reach the band
// minimum. Returns nil when no viable quotes exist.
func (o *Optimizer) GetOptimizedRebalancing(
	ctx context.Context,
	wallet common.Address,
	deficitToken entity.TokenDataAnalyzed,
	surplusTokens []entity.TokenDataAnalyzed,
) []*entity.RebalanceQuote {
	var sameChain, crossChain []entity.TokenDataAnalyzed
	for _, candidate := range surplusTokens {
		if candidate.Config.Key() == deficitToken.Config.Key() {
			continue
		}
		if candidate.Config.ChainID == deficitToken.Config.ChainID {
			sameChain = append(sameChain, candidate)
		} else {
			crossChain = append(crossChain, candidate)
		}
	}

	current := new(big.Int).Set(deficitToken.Analysis.Balance.Current)
	quotes := o.collect(ctx, wallet, deficitToken, sameChain, current)

	if current.Cmp(deficitToken.Analysis.Balance.Minimum) < 0 {
		quotes = append(quotes, o.collect(ctx, wallet, deficitToken, crossChain, current)...)
	}

	if len(quotes) == 0 {
		o.logger.Warn("no viable rebalancing route",
			zap.String("token", deficitToken.Config.Key()),
			zap.String("current", deficitToken.Analysis.Balance.Current.String()),
			zap.String("minimum", deficitToken.Analysis.Balance.Minimum.String()))
		return nil
	}
	return quotes
}

// collect walks candidates largest-surplus-first and accumulates the best
// quote per candidate until projected holdings reach the band minimum.
// current is advanced in place by each accepted quote's output.
func (o *Optimizer) collect(
	ctx context.Context,
	wallet common.Address,
	deficitToken entity.TokenDataAnalyzed,
	candidates []entity.TokenDataAnalyzed,
	current *big.Int,
) []*entity.RebalanceQuote {
	sorted := make([]entity.TokenDataAnalyzed, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Analysis.Diff.Cmp(sorted[j].Analysis.Diff) > 0
	})

	var quotes []*entity.RebalanceQuote
	for _, candidate := range sorted {
		if current.Cmp(deficitToken.Analysis.Balance.Minimum) >= 0 {
			break
		}

		needed := new(big.Int).Sub(deficitToken.Analysis.Balance.Target, current)
		swapAmount := needed
		if candidate.Analysis.Diff.Cmp(needed) < 0 {
			swapAmount = candidate.Analysis.Diff
		}
		if swapAmount.Sign() <= 0 {
			continue
		}
		if swapAmount.Cmp(o.minTrade) < 0 {
			o.logger.Debug("candidate below minimum trade size",
				zap.String("candidate", candidate.Config.Key()),
				zap.String("amount", swapAmount.String()))
			continue
		}

		best := o.bestQuote(ctx, wallet, candidate, deficitToken, swapAmount)
		if best == nil {
			continue
		}

		quotes = append(quotes, best)
		current.Add(current, best.AmountOut)
	}
	return quotes
}

// bestQuote queries every registered provider for one candidate amount and
// keeps the winner: lowest slippage, then highest output, then lexicographic
// strategy id so reruns are deterministic.
func (o *Optimizer) bestQuote(
	ctx context.Context,
	wallet common.Address,
	candidate, deficitToken entity.TokenDataAnalyzed,
	swapAmount *big.Int,
) *entity.RebalanceQuote {
	var best *entity.RebalanceQuote
	for _, prov := range o.providers.All() {
		quoteCtx, cancel := context.WithTimeout(ctx, o.quoteTimeout)
		quote, err := prov.GetQuote(quoteCtx, candidate.TokenData, deficitToken.TokenData, swapAmount)
		cancel()

		if err != nil {
			if errors.Is(err, provider.ErrUnsupportedRoute) {
				continue
			}
			o.reject(wallet, candidate, deficitToken, prov.Strategy(), rejectionReason(err), swapAmount, err.Error())
			continue
		}

		if quote.Slippage.Cmp(o.maxSlippage) > 0 {
			o.reject(wallet, candidate, deficitToken, prov.Strategy(), entity.RejectionHighSlippage, swapAmount,
				"slippage "+quote.Slippage.String()+" exceeds max "+o.maxSlippage.String())
			continue
		}

		if better(quote, best) {
			best = quote
		}
	}
	return best
}

func better(quote, best *entity.RebalanceQuote) bool {
	if best == nil {
		return true
	}
	if c := quote.Slippage.Cmp(best.Slippage); c != 0 {
		return c < 0
	}
	if c := quote.AmountOut.Cmp(best.AmountOut); c != 0 {
		return c > 0
	}
	return quote.Strategy < best.Strategy
}

func rejectionReason(err error) entity.RejectionReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return entity.RejectionTimeout
	case errors.Is(err, provider.ErrInsufficientLiquidity):
		return entity.RejectionInsufficientLiquidity
	default:
		return entity.RejectionProviderError
	}
}

// reject writes a rejection record best-effort. Telemetry never blocks
// quote selection.
func (o *Optimizer) reject(
	wallet common.Address,
	candidate, deficitToken entity.TokenDataAnalyzed,
	strategy entity.Strategy,
	reason entity.RejectionReason,
	swapAmount *big.Int,
	details string,
) {
	o.logger.Info("quote rejected",
		zap.String("strategy", string(strategy)),
		zap.String("reason", string(reason)),
		zap.String("tokenIn", candidate.Config.Key()),
		zap.String("tokenOut", deficitToken.Config.Key()),
		zap.String("amount", swapAmount.String()),
		zap.String("details", details))

	err := o.rejections.Create(entity.RebalanceQuoteRejection{
		RebalanceID:   uuid.NewString(),
		Strategy:      strategy,
		Reason:        reason,
		TokenIn:       entity.RebalanceTokenFromData(candidate.TokenData),
		TokenOut:      entity.RebalanceTokenFromData(deficitToken.TokenData),
		SwapAmount:    new(big.Int).Set(swapAmount),
		Details:       details,
		WalletAddress: wallet,
	})
	if err != nil {
		o.logger.Warn("failed to record quote rejection", zap.Error(err))
	}
}

// StoreRebalancing stamps the quotes with a shared group id, persists one
// PENDING job per quote and skips quotes with non-positive amounts. A
// persistence failure aborts the store: executing transfers that cannot be
// tracked is worse than skipping a cycle.
func (o *Optimizer) StoreRebalancing(wallet common.Address, request *entity.RebalanceRequest) error {
	groupID := uuid.NewString()

	stored := request.Quotes[:0]
	for _, quote := range request.Quotes {
		if quote.AmountIn == nil || quote.AmountIn.Sign() <= 0 ||
			quote.AmountOut == nil || quote.AmountOut.Sign() <= 0 {
			o.logger.Warn("skipping quote with non-positive amount",
				zap.String("strategy", string(quote.Strategy)),
				zap.String("tokenIn", quote.TokenIn.Config.Key()),
				zap.String("tokenOut", quote.TokenOut.Config.Key()))
			continue
		}

		quote.GroupID = groupID
		quote.RebalanceJobID = uuid.NewString()

		err := o.jobs.Create(entity.RebalanceJob{
			RebalanceJobID: quote.RebalanceJobID,
			GroupID:        groupID,
			WalletAddress:  wallet,
			Strategy:       quote.Strategy,
			TokenIn:        entity.RebalanceTokenFromData(quote.TokenIn),
			TokenOut:       entity.RebalanceTokenFromData(quote.TokenOut),
			AmountIn:       quote.AmountIn,
			AmountOut:      quote.AmountOut,
			Slippage:       quote.Slippage,
			Status:         entity.StatusPending,
		})
		if err != nil {
			return errors.Wrap(err, "persist rebalance job")
		}
		stored = append(stored, quote)
	}

	request.Quotes = stored
	return nil
}

// ApplySurplusDebits subtracts the amounts consumed by quotes from the
// surplus candidates they draw on, so later deficits in the same cycle do
// not double-book the same surplus.
func ApplySurplusDebits(surplus []entity.TokenDataAnalyzed, quotes []*entity.RebalanceQuote) {
	for _, quote := range quotes {
		for i := range surplus {
			if surplus[i].Config.Key() != quote.TokenIn.Config.Key() {
				continue
			}
			balance := &surplus[i].Analysis.Balance
			balance.Current = new(big.Int).Sub(balance.Current, quote.AmountIn)

			diff := new(big.Int).Sub(balance.Current, balance.Target)
			if diff.Sign() < 0 {
				diff.SetInt64(0)
			}
			surplus[i].Analysis.Diff = diff
			break
		}
	}
}
