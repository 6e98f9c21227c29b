package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/engine"
	"github.com/tradeforge/okxbot/internal/feed"
)

// tradeLockTTL bounds how long a crashed instance can hold the trade lock
// before another instance may take over.
const tradeLockTTL = time.Hour

// TradeMode starts the full trading loop: ticker feed, position monitoring,
// exit execution, entry signal consumption, and the optional trade archiver.
// A per-account Redis lock ensures only one instance places orders.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Any("symbols", a.cfg.Trading.Symbols),
		slog.Bool("dry_run", a.cfg.Trading.DryRun),
	)

	unlock, err := deps.LockManager.Acquire(ctx, "trade:"+accountKey(a.cfg.Exchange.ApiKey), tradeLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("trade mode: another instance is already trading this account: %w", err)
		}
		return fmt.Errorf("trade mode: acquire trade lock: %w", err)
	}
	defer unlock()

	trader := engine.NewTrader(engine.TraderConfig{
		DefaultOrderSize: a.cfg.Trading.DefaultOrderSize,
		StopLossPct:      a.cfg.Trading.StopLossPct,
		TakeProfitPct:    a.cfg.Trading.TakeProfitPct,
		DryRun:           a.cfg.Trading.DryRun,
	}, deps.Ledger, deps.Gateway, deps.Trades, deps.Cooldowns, deps.Checker, deps.Notifier, a.logger)

	monitor := engine.NewMonitor(engine.MonitorConfig{
		TickInterval: a.cfg.Trading.TickInterval.Duration,
		MaxPriceAge:  a.cfg.Trading.MaxPriceAge.Duration,
		EntryChannel: a.cfg.Trading.EntryChannel,
	}, deps.Ledger, deps.Evaluator, trader, deps.PriceCache, deps.Gateway, deps.SignalBus, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// Public ticker feed keeps the price cache warm for the monitor loops.
	tickerFeed := feed.NewTickerFeed(a.cfg.Exchange.WsURL, a.cfg.Trading.Symbols, deps.PriceCache, a.logger)
	g.Go(func() error {
		return tickerFeed.Run(ctx)
	})

	g.Go(func() error {
		return monitor.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// MonitorMode runs the evaluation loop without ever placing orders: the
// trader is forced into dry-run and entry signals are not consumed. Useful
// for observing what the exit rules would do against live prices.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Any("symbols", a.cfg.Trading.Symbols),
	)

	trader := engine.NewTrader(engine.TraderConfig{
		DefaultOrderSize: a.cfg.Trading.DefaultOrderSize,
		StopLossPct:      a.cfg.Trading.StopLossPct,
		TakeProfitPct:    a.cfg.Trading.TakeProfitPct,
		DryRun:           true,
	}, deps.Ledger, deps.Gateway, deps.Trades, deps.Cooldowns, deps.Checker, deps.Notifier, a.logger)

	monitor := engine.NewMonitor(engine.MonitorConfig{
		TickInterval: a.cfg.Trading.TickInterval.Duration,
		MaxPriceAge:  a.cfg.Trading.MaxPriceAge.Duration,
	}, deps.Ledger, deps.Evaluator, trader, deps.PriceCache, deps.Gateway, nil, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	tickerFeed := feed.NewTickerFeed(a.cfg.Exchange.WsURL, a.cfg.Trading.Symbols, deps.PriceCache, a.logger)
	g.Go(func() error {
		return tickerFeed.Run(ctx)
	})

	g.Go(func() error {
		return monitor.Run(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// accountKey derives a stable lock key suffix from the API key. Falls back to
// "default" when running without credentials (dry-run).
func accountKey(apiKey string) string {
	if apiKey == "" {
		return "default"
	}
	return apiKey
}
