// Package engine ties the trading core together: the Trader applies exit
// actions and opens positions through the exchange gateway, and the Monitor
// drives one evaluation loop per symbol.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradeforge/okxbot/internal/cooldown"
	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/ledger"
	"github.com/tradeforge/okxbot/internal/notify"
	"github.com/tradeforge/okxbot/internal/risk"
)

// TraderConfig holds the entry-side parameters of the Trader.
type TraderConfig struct {
	// DefaultOrderSize is used when an entry signal carries no amount.
	DefaultOrderSize float64
	// StopLossPct / TakeProfitPct seed new positions' initial levels.
	StopLossPct   float64
	TakeProfitPct float64
	// DryRun evaluates and notifies but never sends orders to the exchange.
	DryRun bool
}

// Trader owns all state transitions of the position lifecycle. Exchange
// order placement always happens before any ledger mutation: when the
// gateway rejects an order the position keeps its pre-attempt state and is
// re-evaluated on the next tick.
type Trader struct {
	cfg       TraderConfig
	ledger    *ledger.Ledger
	gateway   domain.ExchangeGateway
	trades    domain.TradeStore
	cooldowns *cooldown.Tracker
	checker   *risk.Checker
	notifier  *notify.Notifier
	logger    *slog.Logger
}

// NewTrader creates a Trader with all required dependencies. trades may be
// nil (persistence disabled); everything else is mandatory.
func NewTrader(
	cfg TraderConfig,
	l *ledger.Ledger,
	gateway domain.ExchangeGateway,
	trades domain.TradeStore,
	cooldowns *cooldown.Tracker,
	checker *risk.Checker,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Trader {
	return &Trader{
		cfg:       cfg,
		ledger:    l,
		gateway:   gateway,
		trades:    trades,
		cooldowns: cooldowns,
		checker:   checker,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "trader")),
	}
}

// Open processes an entry signal: risk checks, entry order, position
// construction, ledger registration, persistence, and notification.
func (t *Trader) Open(ctx context.Context, sig domain.EntrySignal, now time.Time) (*domain.Position, error) {
	if sig.Amount <= 0 {
		sig.Amount = t.cfg.DefaultOrderSize
	}

	ticker, err := t.gateway.FetchTicker(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("trader: fetch ticker %s: %w", sig.Symbol, err)
	}

	if err := t.checker.PreTradeCheck(sig, ticker.LastPrice, now); err != nil {
		return nil, err
	}

	entryPrice := ticker.LastPrice
	if !t.cfg.DryRun {
		res, err := t.gateway.CreateMarketOrder(ctx, sig.Symbol, sig.Side, sig.Amount)
		if err != nil {
			return nil, fmt.Errorf("trader: entry order %s: %w", sig.Symbol, err)
		}
		if res.FilledPrice > 0 {
			entryPrice = res.FilledPrice
		}
	}

	pos, err := domain.NewPosition(sig.Symbol, sig.Side, entryPrice, sig.Amount, now, t.cfg.StopLossPct, t.cfg.TakeProfitPct)
	if err != nil {
		return nil, fmt.Errorf("trader: %w", err)
	}
	if err := t.ledger.Open(pos); err != nil {
		return nil, err
	}

	t.recordOpen(ctx, pos)
	t.notifier.PositionOpened(ctx, pos)
	t.logger.Info("position opened",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("amount", pos.Amount),
		slog.Float64("stop_loss", pos.StopLoss),
	)
	return pos, nil
}

// Apply performs the state transition requested by an exit action. price is
// the evaluated tick price, used as the exit price fallback when the
// exchange does not report a fill price.
func (t *Trader) Apply(ctx context.Context, pos *domain.Position, act *domain.ExitAction, price float64, now time.Time) error {
	if act == nil {
		return nil
	}
	switch act.Kind {
	case domain.ExitFullClose:
		return t.fullClose(ctx, pos, act.Reason, price, now)
	case domain.ExitPartialClose:
		return t.partialClose(ctx, pos, act, price, now)
	case domain.ExitAdjustStop:
		return t.adjustStop(ctx, pos)
	default:
		return fmt.Errorf("trader: unknown action kind %q", act.Kind)
	}
}

func (t *Trader) fullClose(ctx context.Context, pos *domain.Position, reason string, price float64, now time.Time) error {
	exitPrice := price
	if !t.cfg.DryRun {
		res, err := t.gateway.CreateMarketOrder(ctx, pos.Symbol, pos.Side.Opposite(), pos.RemainingAmount)
		if err != nil {
			// No mutation: the position stays open with its pre-attempt
			// state and the next tick re-evaluates.
			t.notifier.CloseFailed(ctx, pos, reason, err)
			t.logger.Error("close order failed, position left open",
				slog.String("symbol", pos.Symbol),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("trader: close %s: %w", pos.Symbol, err)
		}
		if res.FilledPrice > 0 {
			exitPrice = res.FilledPrice
		}
	}

	pnl := pos.UnrealizedPnL(exitPrice, pos.RemainingAmount)

	t.ledger.Remove(pos.Symbol)
	t.cooldowns.Record(domain.CooldownEntry{
		Symbol:      pos.Symbol,
		CloseTime:   now,
		RealizedPnL: pnl,
		ExitPrice:   exitPrice,
		ExitReason:  reason,
	})
	t.recordClose(ctx, pos, exitPrice, pnl, reason, now)
	t.notifier.PositionClosed(ctx, pos, exitPrice, pnl, reason)
	t.logger.Info("position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", pnl),
	)
	return nil
}

func (t *Trader) partialClose(ctx context.Context, pos *domain.Position, act *domain.ExitAction, price float64, now time.Time) error {
	exitPrice := price
	if !t.cfg.DryRun {
		res, err := t.gateway.CreateMarketOrder(ctx, pos.Symbol, pos.Side.Opposite(), act.Amount)
		if err != nil {
			// Tier is not latched: the same tier re-fires next tick.
			t.notifier.CloseFailed(ctx, pos, act.Reason, err)
			t.logger.Error("partial close order failed, tier not latched",
				slog.String("symbol", pos.Symbol),
				slog.String("reason", act.Reason),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("trader: partial close %s: %w", pos.Symbol, err)
		}
		if res.FilledPrice > 0 {
			exitPrice = res.FilledPrice
		}
	}

	pnl := pos.UnrealizedPnL(exitPrice, act.Amount)
	pos.MarkTierTaken(act.TierID)
	pos.ReduceRemaining(act.Amount)

	t.recordPartial(ctx, pos, exitPrice, act.Amount, pnl, act.Reason, now)
	t.notifier.PartialClosed(ctx, pos, act.Amount, exitPrice, pnl, act.Reason)
	t.logger.Info("partial exit",
		slog.String("symbol", pos.Symbol),
		slog.String("reason", act.Reason),
		slog.Float64("amount", act.Amount),
		slog.Float64("remaining", pos.RemainingAmount),
		slog.Float64("pnl", pnl),
	)
	return nil
}

// adjustStop persists an already-ratcheted stop. The in-memory level was
// moved by the evaluator; re-applying is idempotent.
func (t *Trader) adjustStop(ctx context.Context, pos *domain.Position) error {
	if t.trades != nil {
		if err := t.trades.UpdateStop(ctx, pos.ID, pos.StopLoss); err != nil {
			t.logger.Warn("persist stop failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	t.notifier.StopAdjusted(ctx, pos)
	t.logger.Info("stop adjusted",
		slog.String("symbol", pos.Symbol),
		slog.Float64("stop_loss", pos.StopLoss),
		slog.String("source", string(pos.StopSource)),
	)
	return nil
}

// Trade store writes are fire-and-forget: failures are logged and never
// propagate into position state.

func (t *Trader) recordOpen(ctx context.Context, pos *domain.Position) {
	if t.trades == nil {
		return
	}
	if err := t.trades.RecordOpen(ctx, pos); err != nil {
		t.logger.Warn("record open failed", slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
	}
}

func (t *Trader) recordPartial(ctx context.Context, pos *domain.Position, exitPrice, amount, pnl float64, reason string, now time.Time) {
	if t.trades == nil {
		return
	}
	if err := t.trades.RecordPartial(ctx, pos, exitPrice, amount, pnl, reason, now); err != nil {
		t.logger.Warn("record partial failed", slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
	}
}

func (t *Trader) recordClose(ctx context.Context, pos *domain.Position, exitPrice, pnl float64, reason string, now time.Time) {
	if t.trades == nil {
		return
	}
	if err := t.trades.RecordClose(ctx, pos, exitPrice, pnl, reason, now); err != nil {
		t.logger.Warn("record close failed", slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
	}
}
