// Package risk provides pre-trade checks applied to entry signals before an
// order is submitted.
package risk

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tradeforge/okxbot/internal/cooldown"
	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/ledger"
)

// Config holds the tunable parameters for pre-trade risk checks.
type Config struct {
	MaxPositions int
	MaxNotional  float64
}

// Checker validates entry signals against the cooldown tracker and the
// configured position and notional limits.
type Checker struct {
	ledger    *ledger.Ledger
	cooldowns *cooldown.Tracker
	cfg       Config
	logger    *slog.Logger
}

// NewChecker creates a Checker with all required dependencies.
func NewChecker(l *ledger.Ledger, cd *cooldown.Tracker, cfg Config, logger *slog.Logger) *Checker {
	return &Checker{
		ledger:    l,
		cooldowns: cd,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// PreTradeCheck returns a non-nil error describing the first failed check,
// or nil when the entry may proceed.
//
// Checks performed:
//  1. Symbol not in cooldown
//  2. No position already open for the symbol
//  3. Maximum number of open positions
//  4. Notional (price * amount) within limits
func (c *Checker) PreTradeCheck(sig domain.EntrySignal, price float64, now time.Time) error {
	if c.cooldowns.IsBlocked(sig.Symbol, now) {
		entry, _ := c.cooldowns.Entry(sig.Symbol)
		c.logger.Warn("entry blocked by cooldown",
			slog.String("symbol", sig.Symbol),
			slog.Time("closed_at", entry.CloseTime),
			slog.String("exit_reason", entry.ExitReason),
		)
		return fmt.Errorf("risk: %s: %w", sig.Symbol, domain.ErrCooldown)
	}

	if _, open := c.ledger.Get(sig.Symbol); open {
		return fmt.Errorf("risk: position already open for %s: %w", sig.Symbol, domain.ErrRiskRejected)
	}

	if c.cfg.MaxPositions > 0 && c.ledger.Len() >= c.cfg.MaxPositions {
		c.logger.Warn("max positions reached",
			slog.Int("open", c.ledger.Len()),
			slog.Int("max", c.cfg.MaxPositions),
		)
		return fmt.Errorf("risk: max positions reached (%d/%d): %w", c.ledger.Len(), c.cfg.MaxPositions, domain.ErrRiskRejected)
	}

	if c.cfg.MaxNotional > 0 {
		notional := price * sig.Amount
		if notional > c.cfg.MaxNotional {
			c.logger.Warn("notional exceeds limit",
				slog.String("symbol", sig.Symbol),
				slog.Float64("notional", notional),
				slog.Float64("max", c.cfg.MaxNotional),
			)
			return fmt.Errorf("risk: notional %.2f exceeds max %.2f: %w", notional, c.cfg.MaxNotional, domain.ErrRiskRejected)
		}
	}

	return nil
}
