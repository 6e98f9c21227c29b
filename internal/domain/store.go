package domain

import (
	"context"
	"time"
)

// TradeEvent classifies rows in the trades journal.
type TradeEvent string

const (
	TradeEventOpen    TradeEvent = "open"
	TradeEventPartial TradeEvent = "partial"
	TradeEventClose   TradeEvent = "close"
)

// TradeRecord is one journal row: an open, a partial exit, or a full close.
type TradeRecord struct {
	ID          string
	PositionID  string
	Symbol      string
	Side        Side
	Event       TradeEvent
	Amount      float64
	Remaining   float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	Reason      string
	OccurredAt  time.Time
}

// TradeStore persists position rows and the trade journal. All writes are
// fire-and-forget from the trading core's perspective: failures are logged
// by the caller and never change in-memory position state.
type TradeStore interface {
	RecordOpen(ctx context.Context, pos *Position) error
	RecordPartial(ctx context.Context, pos *Position, exitPrice, amount, pnl float64, reason string, at time.Time) error
	RecordClose(ctx context.Context, pos *Position, exitPrice, pnl float64, reason string, at time.Time) error
	UpdateStop(ctx context.Context, positionID string, stopLoss float64) error
	ListClosedSince(ctx context.Context, since time.Time) ([]TradeRecord, error)
}
