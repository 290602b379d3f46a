package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/queue"
	"github.com/solvernet/rebalancer/internal/services/analyzer"
	"github.com/solvernet/rebalancer/internal/services/optimizer"
	"go.uber.org/zap"
)

var stateStyles = map[entity.TokenState]lipgloss.Style{
	entity.StateDeficit: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	entity.StateOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	entity.StateSurplus: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
}

// CheckBalancesHandler runs one full rebalancing cycle: analyze balances,
// plan routes for each deficit and queue the resulting transfers.
type CheckBalancesHandler struct {
	wallet   common.Address
	tokens   []entity.TokenConfig
	analyzer *analyzer.Analyzer
	planner  *optimizer.Optimizer
	queue    queue.Queue
	out      io.Writer
	logger   *zap.Logger
}

// NewCheckBalancesHandler wires the cycle handler. Rendered balance and plan
// tables go to out, keeping operator output on one stream.
func NewCheckBalancesHandler(
	wallet common.Address,
	tokens []entity.TokenConfig,
	a *analyzer.Analyzer,
	planner *optimizer.Optimizer,
	q queue.Queue,
	out io.Writer,
	logger *zap.Logger,
) *CheckBalancesHandler {
	return &CheckBalancesHandler{
		wallet:   wallet,
		tokens:   tokens,
		analyzer: a,
		planner:  planner,
		queue:    q,
		out:      out,
		logger:   logger,
	}
}

func (h *CheckBalancesHandler) Process(ctx context.Context, _ queue.Job) (queue.Result, error) {
	analysis := h.analyzer.AnalyzeTokens(ctx, h.tokens)

	fmt.Fprintln(h.out, renderAnalysisTable(analysis.Items))
	h.logger.Info("balance check",
		zap.Int("tokens", len(analysis.Items)),
		zap.Int("deficit", len(analysis.Deficit.Items)),
		zap.Int("surplus", len(analysis.Surplus.Items)),
		zap.String("deficitTotal", analysis.Deficit.Total.String()),
		zap.String("surplusTotal", analysis.Surplus.Total.String()))

	if len(analysis.Deficit.Items) == 0 {
		return queue.Done, nil
	}

	var planned []*entity.RebalanceQuote
	for _, deficit := range analysis.Deficit.Items {
		quotes := h.planner.GetOptimizedRebalancing(ctx, h.wallet, deficit, analysis.Surplus.Items)
		if len(quotes) == 0 {
			continue
		}

		request := &entity.RebalanceRequest{Token: deficit, Quotes: quotes}
		if err := h.planner.StoreRebalancing(h.wallet, request); err != nil {
			return queue.Done, errors.Wrap(err, "store rebalancing")
		}

		// book the consumed surplus so the next deficit in this cycle
		// plans against what is actually left
		optimizer.ApplySurplusDebits(analysis.Surplus.Items, request.Quotes)

		for _, quote := range request.Quotes {
			body, err := json.Marshal(NewRebalancePayload(h.wallet, quote))
			if err != nil {
				return queue.Done, errors.Wrap(err, "encode rebalance payload")
			}
			if err := h.queue.Enqueue(ctx, NameRebalance, body, queue.Options{}); err != nil {
				return queue.Done, errors.Wrap(err, "enqueue rebalance")
			}
		}
		planned = append(planned, request.Quotes...)
	}

	if len(planned) > 0 {
		fmt.Fprintln(h.out, renderPlanTable(planned))
	}
	h.logger.Info("rebalancing cycle planned", zap.Int("transfers", len(planned)))
	return queue.Done, nil
}

// OnFailed only logs: a broken cycle moved no funds and the next tick will
// re-analyze from scratch.
func (h *CheckBalancesHandler) OnFailed(_ context.Context, _ queue.Job, err error) {
	h.logger.Error("balance check cycle failed", zap.Error(err))
}

func renderAnalysisTable(items []entity.TokenDataAnalyzed) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CHAIN", "TOKEN", "STATE", "CURRENT", "TARGET", "DIFF")

	for _, item := range items {
		state := string(item.Analysis.State)
		if style, ok := stateStyles[item.Analysis.State]; ok {
			state = style.Render(state)
		}
		t.Row(
			fmt.Sprintf("%d", item.Config.ChainID),
			item.Config.Address.Hex(),
			state,
			formatUnits(item.Analysis.Balance.Current, item.Config.Decimals),
			formatUnits(item.Analysis.Balance.Target, item.Config.Decimals),
			formatUnits(item.Analysis.Diff, item.Config.Decimals),
		)
	}
	return t.Render()
}

func renderPlanTable(quotes []*entity.RebalanceQuote) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STRATEGY", "FROM", "TO", "AMOUNT IN", "AMOUNT OUT", "SLIPPAGE")

	for _, q := range quotes {
		t.Row(
			string(q.Strategy),
			fmt.Sprintf("%d:%s", q.TokenIn.Config.ChainID, q.TokenIn.Config.Address.Hex()),
			fmt.Sprintf("%d:%s", q.TokenOut.Config.ChainID, q.TokenOut.Config.Address.Hex()),
			formatUnits(q.AmountIn, q.TokenIn.Config.Decimals),
			formatUnits(q.AmountOut, q.TokenOut.Config.Decimals),
			q.Slippage.String(),
		)
	}
	return t.Render()
}

func formatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
