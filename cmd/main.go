// Command rebalancer keeps solver wallet balances inside their configured
// operating bands, funding deficit tokens from surpluses on the same or
// other chains.
//
// Usage:
//
//	rebalancer --config config.yaml
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/config"
	"github.com/solvernet/rebalancer/internal"
	"github.com/solvernet/rebalancer/internal/clients"
	"github.com/solvernet/rebalancer/internal/queue"
	"github.com/solvernet/rebalancer/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Get(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	balances, err := clients.NewEVMBalanceFetcher(cfg.WalletAddress, cfg.RPCEndpoints)
	if err != nil {
		logger.Fatal("failed to connect rpc endpoints", zap.Error(err))
	}
	defer balances.Close()

	wallet := clients.NewTxServiceWallet(cfg.WalletAddress, cfg.TxServiceURL, balances)

	q := queue.NewMemQueue(logger)
	engine, err := internal.NewEngine(cfg, wallet, balances, q, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Run(ctx, cfg.Workers)
	})
	g.Go(func() error {
		return engine.Run(ctx)
	})
	if cfg.WebAddr != "" {
		g.Go(func() error {
			return web.NewServer(cfg.WebAddr, engine, logger).Start(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("rebalancer stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
