// Package exitrule decides, on each price observation, whether an open
// position should be held, partially closed, fully closed, or have its stop
// tightened. Rules are evaluated in a fixed priority order and at most one
// close or partial-close action is returned per tick; stop ratchets
// (trailing, break-even, profit lock) are applied to the position in place
// and do not prevent a close from firing in the same call.
package exitrule

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/tradeforge/okxbot/internal/domain"
)

// tolerance is the relative slack applied to level and threshold
// comparisons, absorbing floating-point and exchange tick noise (0.01%).
const tolerance = 0.0001

// Tier is a partial-profit step: once unrealized profit reaches ProfitPct,
// CloseFraction of the original amount is closed.
type Tier struct {
	ProfitPct     float64
	CloseFraction float64
}

// Config holds the exit thresholds. Percentages are in percentage points
// (1.5 means 1.5%). A zero threshold disables its rule.
type Config struct {
	TrailingActivationPct float64
	TrailingDistancePct   float64
	Tiers                 []Tier
	BreakevenTriggerPct   float64
	LockTriggerPct        float64
	LockProfitPct         float64
	MaxHold               time.Duration
	MinProfitPct          float64
	MaxRetracementPct     float64
}

// Evaluator applies the exit rules of a single Config to positions.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Evaluator. Tiers are sorted ascending by profit threshold
// so the lowest unfired tier always fires first.
func New(cfg Config, logger *slog.Logger) *Evaluator {
	tiers := make([]Tier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].ProfitPct < tiers[j].ProfitPct })
	cfg.Tiers = tiers
	return &Evaluator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "exitrule")),
	}
}

// Evaluate inspects pos at the given price and time and returns at most one
// action, or nil to hold. It updates the position's extrema and may ratchet
// the stop in place; when the stop moved but no close fired, an adjust_stop
// action is returned so the change can be persisted and notified.
//
// Rule priority: stop loss, trailing stop, tiered partial profit, break-even
// latch, profit lock, time limit, emergency drawdown.
func (e *Evaluator) Evaluate(pos *domain.Position, price float64, now time.Time) *domain.ExitAction {
	if pos == nil {
		return nil
	}
	if pos.EntryPrice <= 0 || price <= 0 || pos.RemainingAmount <= 0 {
		// Upstream bug, not a recoverable market condition. Hold and log.
		e.logger.Warn("anomalous position state, holding",
			slog.String("symbol", pos.Symbol),
			slog.Float64("entry_price", pos.EntryPrice),
			slog.Float64("price", price),
			slog.Float64("remaining", pos.RemainingAmount),
		)
		return nil
	}

	pos.ObservePrice(price)
	profitPct := pos.ProfitPercent(price)
	stopBefore := pos.StopLoss

	// 1. Stop loss. A breach of a trailing-owned stop is reported as a
	// trailing-stop exit.
	if pos.StopLoss > 0 && stopCrossed(pos, price) {
		return domain.FullClose(stopReason(pos))
	}

	// 2. Trailing stop. Activation latches once profit reaches the
	// threshold; from then on the stop ratchets toward the best price seen
	// on every tick, even when profit later dips below the threshold. The
	// new level is checked in the same tick.
	if e.cfg.TrailingDistancePct > 0 {
		if !pos.TrailingActivated && approxGE(profitPct, e.cfg.TrailingActivationPct) {
			pos.TrailingActivated = true
		}
		if pos.TrailingActivated {
			trail := trailLevel(pos, e.cfg.TrailingDistancePct)
			pos.TightenStop(trail, domain.StopSourceTrailing)
			if pos.StopSource == domain.StopSourceTrailing && stopCrossed(pos, price) {
				return domain.FullClose(domain.ReasonTrailingStop)
			}
		}
	}

	// 3. Tiered partial profit: only the lowest unfired tier fires per tick;
	// higher crossed tiers wait for subsequent ticks. The tier latch and the
	// remaining-amount decrement are committed by the mutator only after the
	// exchange accepts the order, so a failed close re-fires next tick.
	for i, tier := range e.cfg.Tiers {
		id := tierID(i)
		if pos.TierTaken(id) {
			continue
		}
		if !approxGE(profitPct, tier.ProfitPct) {
			break // tiers are ascending, higher ones cannot be crossed either
		}
		amount := tier.CloseFraction * pos.RemainingAmount
		if amount >= pos.RemainingAmount {
			// Closing the tier amount would empty the position.
			return domain.FullClose("partial_profit_" + id)
		}
		return domain.PartialClose(amount, "partial_profit_"+id, id)
	}

	// 4. Break-even latch: one-time stop promotion to the entry price.
	if e.cfg.BreakevenTriggerPct > 0 && !pos.BreakevenActivated && approxGE(profitPct, e.cfg.BreakevenTriggerPct) {
		pos.TightenStop(pos.EntryPrice, domain.StopSourceBreakeven)
		pos.BreakevenActivated = true
	}

	// 5. Profit lock: one-time stop promotion guaranteeing a minimum profit.
	if e.cfg.LockTriggerPct > 0 && !pos.ProfitLocked && approxGE(profitPct, e.cfg.LockTriggerPct) {
		pos.TightenStop(lockLevel(pos, e.cfg.LockProfitPct), domain.StopSourceProfitLock)
		pos.ProfitLocked = true
	}

	// 6. Time limit: after the max hold, take profits above the minimum and
	// cut losers. The band [0, min) keeps holding.
	if e.cfg.MaxHold > 0 && pos.HoldingTime(now) >= e.cfg.MaxHold {
		if approxGE(profitPct, e.cfg.MinProfitPct) || profitPct < 0 {
			return domain.FullClose(domain.ReasonTimeLimit)
		}
	}

	// 7. Emergency drawdown from the peak.
	if e.cfg.MaxRetracementPct > 0 {
		if dd, ok := drawdownPct(pos, price); ok && approxGE(dd, e.cfg.MaxRetracementPct) {
			return domain.FullClose(domain.ReasonEmergencyDrawdown)
		}
	}

	if pos.StopLoss != stopBefore {
		return domain.AdjustStop(pos.StopLoss)
	}
	return nil
}

// stopCrossed reports whether price has crossed the stop against the
// position's side, with tolerance.
func stopCrossed(pos *domain.Position, price float64) bool {
	if pos.Side == domain.SideShort {
		return price >= pos.StopLoss*(1-tolerance)
	}
	return price <= pos.StopLoss*(1+tolerance)
}

func stopReason(pos *domain.Position) string {
	if pos.StopSource == domain.StopSourceTrailing {
		return domain.ReasonTrailingStop
	}
	return domain.ReasonStopLoss
}

// trailLevel is the trailing-stop candidate: distancePct below the highest
// price for longs, above the lowest for shorts.
func trailLevel(pos *domain.Position, distancePct float64) float64 {
	if pos.Side == domain.SideShort {
		return pos.LowestPrice * (1 + distancePct/100)
	}
	return pos.HighestPrice * (1 - distancePct/100)
}

// lockLevel is the stop level that guarantees lockPct profit if hit.
func lockLevel(pos *domain.Position, lockPct float64) float64 {
	if pos.Side == domain.SideShort {
		return pos.EntryPrice * (1 - lockPct/100)
	}
	return pos.EntryPrice * (1 + lockPct/100)
}

// drawdownPct is the retracement from the best price seen, in percent.
// ok is false when the peak is unusable (division guard).
func drawdownPct(pos *domain.Position, price float64) (float64, bool) {
	if pos.Side == domain.SideShort {
		if pos.LowestPrice <= 0 {
			return 0, false
		}
		return (price - pos.LowestPrice) / pos.LowestPrice * 100, true
	}
	if pos.HighestPrice <= 0 {
		return 0, false
	}
	return (pos.HighestPrice - price) / pos.HighestPrice * 100, true
}

// approxGE reports a >= b with relative tolerance.
func approxGE(a, b float64) bool {
	return a >= b-math.Abs(b)*tolerance
}

func tierID(index int) string {
	return fmt.Sprintf("%d", index+1)
}
