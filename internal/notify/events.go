package notify

import (
	"context"
	"fmt"

	"github.com/tradeforge/okxbot/internal/domain"
)

// Typed helpers that format lifecycle events consistently across channels.
// Each maps to one of the event kinds in internal/domain/signal.go.

// PositionOpened reports a new position.
func (n *Notifier) PositionOpened(ctx context.Context, pos *domain.Position) {
	title := fmt.Sprintf("Opened %s %s", pos.Side, pos.Symbol)
	msg := fmt.Sprintf("entry %s, amount %s, stop %s",
		formatPrice(pos.EntryPrice), formatPrice(pos.Amount), formatPrice(pos.StopLoss))
	n.Notify(ctx, domain.EventOpened, title, msg)
}

// PartialClosed reports a tiered partial exit.
func (n *Notifier) PartialClosed(ctx context.Context, pos *domain.Position, amount, exitPrice, pnl float64, reason string) {
	title := fmt.Sprintf("Partial exit %s", pos.Symbol)
	msg := fmt.Sprintf("%s closed %s @ %s (pnl %+.2f), %s remaining",
		reason, formatPrice(amount), formatPrice(exitPrice), pnl, formatPrice(pos.RemainingAmount))
	n.Notify(ctx, domain.EventPartialClosed, title, msg)
}

// StopAdjusted reports a stop ratchet (trailing, break-even, or profit lock).
func (n *Notifier) StopAdjusted(ctx context.Context, pos *domain.Position) {
	title := fmt.Sprintf("Stop adjusted %s", pos.Symbol)
	msg := fmt.Sprintf("stop now %s (%s)", formatPrice(pos.StopLoss), pos.StopSource)
	n.Notify(ctx, domain.EventStopAdjusted, title, msg)
}

// PositionClosed reports a full close.
func (n *Notifier) PositionClosed(ctx context.Context, pos *domain.Position, exitPrice, pnl float64, reason string) {
	title := fmt.Sprintf("Closed %s %s", pos.Side, pos.Symbol)
	msg := fmt.Sprintf("%s @ %s, pnl %+.2f (entry %s)",
		reason, formatPrice(exitPrice), pnl, formatPrice(pos.EntryPrice))
	n.Notify(ctx, domain.EventClosed, title, msg)
}

// CloseFailed reports a close attempt rejected by the exchange; the position
// stays open and will be re-evaluated on the next tick.
func (n *Notifier) CloseFailed(ctx context.Context, pos *domain.Position, reason string, err error) {
	title := fmt.Sprintf("CLOSE FAILED %s", pos.Symbol)
	msg := fmt.Sprintf("%s close rejected: %v. Position left open for retry", reason, err)
	n.Notify(ctx, domain.EventCloseFailed, title, msg)
}
