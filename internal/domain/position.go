package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the side of the order that closes a position of this side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// StopSource records which exit rule last tightened the stop, so a later
// breach can be attributed to the right exit reason.
type StopSource string

const (
	StopSourceInitial    StopSource = "initial"
	StopSourceTrailing   StopSource = "trailing"
	StopSourceBreakeven  StopSource = "breakeven"
	StopSourceProfitLock StopSource = "profit_lock"
)

// Position is an open position and its lifecycle state. Entry fields are
// immutable after construction; the extrema only ever widen, the stop only
// ever tightens, and RemainingAmount only ever decreases.
type Position struct {
	ID         string
	Symbol     string
	Side       Side
	EntryPrice float64
	Amount     float64
	EntryTime  time.Time

	StopLoss   float64
	TakeProfit float64
	StopSource StopSource

	HighestPrice float64
	LowestPrice  float64

	RemainingAmount   float64
	PartialExitsTaken map[string]bool

	TrailingActivated  bool
	BreakevenActivated bool
	ProfitLocked       bool
}

// NewPosition constructs a Position with its initial invariants established:
// positive entry price and amount, extrema seeded at the entry price,
// remaining amount equal to the full amount, and initial stop-loss /
// take-profit levels derived from the given percentages (0 disables a level).
func NewPosition(symbol string, side Side, entryPrice, amount float64, entryTime time.Time, stopLossPct, takeProfitPct float64) (*Position, error) {
	if symbol == "" {
		return nil, fmt.Errorf("position: symbol must not be empty")
	}
	if side != SideLong && side != SideShort {
		return nil, fmt.Errorf("position: invalid side %q", side)
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("position: entry price must be positive, got %v", entryPrice)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("position: amount must be positive, got %v", amount)
	}

	p := &Position{
		ID:                uuid.New().String(),
		Symbol:            symbol,
		Side:              side,
		EntryPrice:        entryPrice,
		Amount:            amount,
		EntryTime:         entryTime,
		StopSource:        StopSourceInitial,
		HighestPrice:      entryPrice,
		LowestPrice:       entryPrice,
		RemainingAmount:   amount,
		PartialExitsTaken: make(map[string]bool),
	}

	if stopLossPct > 0 {
		if side == SideLong {
			p.StopLoss = entryPrice * (1 - stopLossPct/100)
		} else {
			p.StopLoss = entryPrice * (1 + stopLossPct/100)
		}
	}
	if takeProfitPct > 0 {
		if side == SideLong {
			p.TakeProfit = entryPrice * (1 + takeProfitPct/100)
		} else {
			p.TakeProfit = entryPrice * (1 - takeProfitPct/100)
		}
	}

	return p, nil
}

// ObservePrice updates the running extrema. HighestPrice is non-decreasing
// and LowestPrice is non-increasing over the position's lifetime.
func (p *Position) ObservePrice(price float64) {
	if price <= 0 {
		return
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if price < p.LowestPrice || p.LowestPrice == 0 {
		p.LowestPrice = price
	}
}

// TightenStop ratchets the stop toward the given level and records its
// source. For longs the stop never decreases, for shorts it never increases.
// It reports whether the stop actually moved.
func (p *Position) TightenStop(level float64, source StopSource) bool {
	if level <= 0 {
		return false
	}
	switch p.Side {
	case SideLong:
		if p.StopLoss != 0 && level <= p.StopLoss {
			return false
		}
	case SideShort:
		if p.StopLoss != 0 && level >= p.StopLoss {
			return false
		}
	}
	p.StopLoss = level
	p.StopSource = source
	return true
}

// ProfitPercent returns the unrealized profit at price as a percentage of
// the entry price, positive when the position is in profit. A zero entry
// price yields zero rather than a division by zero.
func (p *Position) ProfitPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryPrice - price) / p.EntryPrice * 100
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// UnrealizedPnL returns the profit of the given amount closed at price, in
// quote currency. Sign is flipped for shorts.
func (p *Position) UnrealizedPnL(price, amount float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * amount
	}
	return (price - p.EntryPrice) * amount
}

// ReduceRemaining decrements the open amount after a partial exit. The
// remaining amount never goes negative.
func (p *Position) ReduceRemaining(amount float64) {
	p.RemainingAmount -= amount
	if p.RemainingAmount < 0 {
		p.RemainingAmount = 0
	}
}

// MarkTierTaken latches a partial-profit tier so it cannot fire twice.
func (p *Position) MarkTierTaken(tierID string) {
	if p.PartialExitsTaken == nil {
		p.PartialExitsTaken = make(map[string]bool)
	}
	p.PartialExitsTaken[tierID] = true
}

// TierTaken reports whether a partial-profit tier has already fired.
func (p *Position) TierTaken(tierID string) bool {
	return p.PartialExitsTaken[tierID]
}

// HoldingTime returns how long the position has been open.
func (p *Position) HoldingTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
