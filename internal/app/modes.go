package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/bot"
	"github.com/alanyoungcy/tradecore/internal/exchange"
	"github.com/alanyoungcy/tradecore/internal/exchange/bybit"
	"github.com/alanyoungcy/tradecore/internal/executor"
)

// PaperMode trades against the simulator: live market data from the venue's
// public endpoints, fills simulated by the slippage model, no private stream.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	// Public market data needs no credentials.
	market := bybit.NewClient(a.cfg.Exchange, a.logger)
	exec := a.newExecutor(deps, nil)

	return a.runCore(ctx, deps, exec, market, nil, nil)
}

// LiveMode trades on the venue: authenticated REST for orders, the private
// websocket for fills, and periodic reconciliation as the backstop.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	client := bybit.NewClient(a.cfg.Exchange, a.logger)
	exec := a.newExecutor(deps, client)

	stream := bybit.NewStream(a.cfg.Exchange, a.logger)
	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect private stream: %w", err)
	}

	return a.runCore(ctx, deps, exec, client, stream, client)
}

// runCore restores state, then runs the persistence worker and the control
// loop until the context ends. The loop closes the stream itself before it
// returns, so buffered fills still reach the ledger and the final snapshot.
func (a *App) runCore(ctx context.Context, deps *Dependencies, exec *executor.Executor, market *bybit.Client, stream exchange.Stream, client exchange.Client) error {
	if err := restore(ctx, deps, a.logger); err != nil {
		return err
	}

	// Live mode: the restored ledger should agree with the venue's wallet.
	// A divergence is logged, not corrected; the venue is the record for
	// orders, the ledger for cash and margin.
	if client != nil {
		if venueEquity, err := client.WalletBalance(ctx); err != nil {
			a.logger.Warn("wallet balance check failed", slog.Any("error", err))
		} else {
			a.logger.Info("wallet balance check",
				slog.Float64("venue_equity", venueEquity),
				slog.Float64("ledger_equity", deps.State.Equity()),
			)
		}
	}

	loop := bot.New(*a.cfg, bot.Deps{
		State:        deps.State,
		Machine:      deps.Machine,
		Orchestrator: deps.Orchestrator,
		Risk:         deps.Risk,
		Sizer:        deps.Sizer,
		Executor:     exec,
		Monitor:      bot.NewPositionMonitor(deps.State, exec, deps.Registry, a.logger),
		Filters:      bot.NewPortfolioFilters(a.cfg.Filters, deps.State),
		Market:       market,
		Control:      deps.Control,
		Stream:       stream,
	}, a.logger)

	// The loop can end on its own (operator stop); cancelling here winds
	// down the persistence worker, which takes its final snapshot.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if deps.Persist != nil {
		g.Go(func() error {
			return deps.Persist.Run(ctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return loop.Run(ctx)
	})

	return g.Wait()
}

func (a *App) newExecutor(deps *Dependencies, client exchange.Client) *executor.Executor {
	slippage := executor.NewSlippageModel(
		a.cfg.Executor.BaseSlippageBuy,
		a.cfg.Executor.BaseSlippageSell,
	)
	return executor.New(
		a.cfg.Mode,
		deps.State,
		client,
		slippage,
		a.cfg.Trading.Leverage,
		a.cfg.Trading.TakerFeeRate,
		a.logger,
	)
}
