// Package analyzer classifies wallet token balances against their configured
// operating bands.
package analyzer

import (
	"context"
	"math/big"

	"github.com/solvernet/rebalancer/internal/clients"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/pkg/tokenmath"
	"go.uber.org/zap"
)

// Analyzer computes per-token deficit/surplus state. It holds no mutable
// state of its own; every analysis works on balances fetched for that cycle.
type Analyzer struct {
	balances clients.BalanceFetcher
	band     tokenmath.Percentages
	logger   *zap.Logger
}

// New creates an Analyzer with the given band thresholds.
func New(balances clients.BalanceFetcher, band tokenmath.Percentages, logger *zap.Logger) *Analyzer {
	return &Analyzer{balances: balances, band: band, logger: logger}
}

// Group is one side of a partition with the summed distance from target.
// The total is a logging/alerting signal only.
type Group struct {
	Items []entity.TokenDataAnalyzed
	Total *big.Int
}

// Result is the full outcome of one analysis cycle. Transient; recomputed
// every cycle and never persisted.
type Result struct {
	Items   []entity.TokenDataAnalyzed
	Deficit Group
	Surplus Group
}

// AnalyzeToken classifies one token against its band. The band is derived
// from the target balance: DEFICIT below target*(1-down), SURPLUS above
// target*(1+up), OK in between (bounds inclusive).
func (a *Analyzer) AnalyzeToken(token entity.TokenData) entity.TokenAnalysis {
	bounds := tokenmath.RangeFromPercentage(token.Config.TargetBalance, a.band)
	current := token.Balance.Balance

	state := entity.StateOK
	switch {
	case current.Cmp(bounds.Min) < 0:
		state = entity.StateDeficit
	case current.Cmp(bounds.Max) > 0:
		state = entity.StateSurplus
	}

	return entity.TokenAnalysis{
		State: state,
		Balance: entity.BalanceBounds{
			Current: current,
			Target:  token.Config.TargetBalance,
			Minimum: bounds.Min,
			Maximum: bounds.Max,
		},
		Diff: new(big.Int).Abs(new(big.Int).Sub(current, token.Config.TargetBalance)),
	}
}

// AnalyzeTokens fetches balances for all configured tokens and partitions
// them into deficit and surplus groups. A token whose balance lookup fails
// is skipped with a warning; one bad token never aborts the cycle.
func (a *Analyzer) AnalyzeTokens(ctx context.Context, tokens []entity.TokenConfig) Result {
	result := Result{
		Deficit: Group{Total: new(big.Int)},
		Surplus: Group{Total: new(big.Int)},
	}

	for _, cfg := range tokens {
		balance, err := a.balances.GetTokenBalance(ctx, cfg)
		if err != nil {
			a.logger.Warn("token skipped, balance lookup failed",
				zap.Uint64("chain_id", cfg.ChainID),
				zap.String("token", cfg.Address.Hex()),
				zap.Error(err))
			continue
		}

		data := entity.TokenData{Config: cfg, Balance: balance}
		analyzed := entity.TokenDataAnalyzed{
			TokenData: data,
			Analysis:  a.AnalyzeToken(data),
		}
		result.Items = append(result.Items, analyzed)

		switch analyzed.Analysis.State {
		case entity.StateDeficit:
			result.Deficit.Items = append(result.Deficit.Items, analyzed)
			result.Deficit.Total.Add(result.Deficit.Total, analyzed.Analysis.Diff)
		case entity.StateSurplus:
			result.Surplus.Items = append(result.Surplus.Items, analyzed)
			result.Surplus.Total.Add(result.Surplus.Total, analyzed.Analysis.Diff)
		}
	}

	return result
}
