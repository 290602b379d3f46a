package internal

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/config"
	"github.com/solvernet/rebalancer/internal/clients"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/queue"
	"github.com/solvernet/rebalancer/internal/services/analyzer"
	"github.com/solvernet/rebalancer/internal/services/health"
	"github.com/solvernet/rebalancer/internal/services/jobs"
	"github.com/solvernet/rebalancer/internal/services/optimizer"
	"github.com/solvernet/rebalancer/internal/services/provider"
	"github.com/solvernet/rebalancer/internal/storage/rebalances"
	"github.com/solvernet/rebalancer/internal/storage/rejections"
	"github.com/solvernet/rebalancer/pkg/retrier"
	"go.uber.org/zap"
)

// JobQueue is what the engine needs from its queue implementation: the
// consumer contract plus handler registration.
type JobQueue interface {
	queue.Queue
	Register(name string, h queue.Handler)
}

// Engine wires the rebalancing pipeline: analyzer, optimizer, providers,
// stores and job handlers, and drives the periodic balance check.
type Engine struct {
	cfg    *config.Config
	queue  JobQueue
	guard  *queue.Guard
	logger *zap.Logger

	rebalances *rebalances.WALStore
	rejections *rejections.WALStore
	checker    *health.Checker
}

// NewEngine composes the pipeline and registers every job handler on q.
func NewEngine(
	cfg *config.Config,
	wallet clients.WalletClient,
	balances clients.BalanceFetcher,
	q JobQueue,
	logger *zap.Logger,
) (*Engine, error) {
	rebalanceStore, err := rebalances.NewWALStore(filepath.Join(cfg.WALDir, "rebalances"))
	if err != nil {
		return nil, errors.Wrap(err, "open rebalance store")
	}
	rejectionStore, err := rejections.NewWALStore(filepath.Join(cfg.WALDir, "rejections"))
	if err != nil {
		rebalanceStore.Close()
		return nil, errors.Wrap(err, "open rejection store")
	}

	retry := retrier.New(
		retrier.WithInitialInterval(cfg.Retry.InitialInterval),
		retrier.WithMaxInterval(cfg.Retry.MaxInterval),
		retrier.WithMultiplier(cfg.Retry.Multiplier),
		retrier.WithMaxRetries(cfg.Retry.MaxAttempts),
		retrier.WithJitter(cfg.Retry.Jitter),
	)

	var (
		providers []provider.IRebalanceProvider
		lifi      *provider.LiFi
		cctp      *provider.CCTP
	)
	if cfg.LiFi.Enabled {
		lifi = provider.NewLiFi(cfg.LiFi.APIURL, wallet, logger)
		providers = append(providers, lifi)
	}
	if cfg.CCTP.Enabled {
		cctp, err = provider.NewCCTP(cfg.CCTP, wallet, logger)
		if err != nil {
			rebalanceStore.Close()
			rejectionStore.Close()
			return nil, errors.Wrap(err, "build cctp provider")
		}
		providers = append(providers, cctp)
	}
	if lifi != nil && cctp != nil {
		providers = append(providers, provider.NewCCTPLiFi(cctp, lifi, logger))
	}
	if len(providers) == 0 {
		rebalanceStore.Close()
		rejectionStore.Close()
		return nil, errors.New("no rebalance providers enabled")
	}
	registry := provider.NewRegistry(providers...)

	planner := optimizer.New(registry, rebalanceStore, rejectionStore,
		cfg.MaxQuoteSlippage, cfg.MinTradeAmount, cfg.QuoteTimeout, logger)
	tokenAnalyzer := analyzer.New(balances, cfg.Band, logger)

	q.Register(jobs.NameCheckBalances, jobs.NewCheckBalancesHandler(
		cfg.WalletAddress, cfg.Tokens, tokenAnalyzer, planner, q, os.Stdout, logger))
	q.Register(jobs.NameRebalance, jobs.NewRebalanceHandler(
		registry, rebalanceStore, q, retry, logger))
	if cctp != nil {
		q.Register(jobs.NameCheckAttestation, jobs.NewCheckAttestationHandler(
			cctp, rebalanceStore, q, retry, logger))
		q.Register(jobs.NameExecuteMint, jobs.NewExecuteMintHandler(
			cctp, rebalanceStore, q, retry, logger))
		if lifi != nil {
			q.Register(jobs.NameDestinationSwap, jobs.NewDestinationSwapHandler(
				lifi, rebalanceStore, retry, logger))
		}
	}

	return &Engine{
		cfg:        cfg,
		queue:      q,
		guard:      queue.NewGuard(q, []string{jobs.NameCheckBalances}, logger),
		logger:     logger,
		rebalances: rebalanceStore,
		rejections: rejectionStore,
		checker:    health.New(rebalanceStore, rejectionStore, logger),
	}, nil
}

// RunBalanceCheck queues one balance-check cycle unless a previous one is
// still waiting or running.
func (e *Engine) RunBalanceCheck(ctx context.Context) error {
	if e.guard.AvoidConcurrency(ctx, jobs.NameCheckBalances) {
		e.logger.Info("balance check still in flight, skipping tick")
		return nil
	}
	return e.queue.Enqueue(ctx, jobs.NameCheckBalances, nil, queue.Options{})
}

// Run drives the periodic balance check until ctx is done. The first cycle
// starts immediately.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.RunBalanceCheck(ctx); err != nil {
		return errors.Wrap(err, "initial balance check")
	}

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	e.logger.Info("rebalancer started",
		zap.Duration("check_interval", e.cfg.CheckInterval),
		zap.Int("tokens", len(e.cfg.Tokens)))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("stopping rebalancer")
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunBalanceCheck(ctx); err != nil {
				e.logger.Error("failed to queue balance check", zap.Error(err))
			}

			status := e.checker.Check()
			e.logger.Debug("health",
				zap.Bool("healthy", status.Healthy),
				zap.Int("successes", status.SuccessCount),
				zap.Int("rejections", status.RejectionCount))
		}
	}
}

// Health evaluates the pipeline's trailing-hour health.
func (e *Engine) Health() health.Status {
	return e.checker.Check()
}

// Jobs returns the tracked rebalance jobs, newest first.
func (e *Engine) Jobs() []entity.RebalanceJob {
	return e.rebalances.All()
}

// Close releases the underlying stores.
func (e *Engine) Close() {
	e.rebalances.Close()
	e.rejections.Close()
}
