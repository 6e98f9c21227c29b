// Package notify delivers position lifecycle events to operators. Events are
// dispatched to all registered senders (Telegram, Discord) and filtered by
// event kind so operators receive only the alerts they care about. Delivery
// is purely observational: a sender failure is logged and must never block
// or fail the trading core.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches lifecycle events to one or more Senders. It maintains
// a set of allowed event kinds; events outside the set are dropped. If no
// kinds were configured, all events pass.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders, forwarding only
// events whose kind appears in events (empty means all).
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an event to all senders if its kind is allowed. Individual
// sender failures are logged and swallowed; Notify never returns an error
// because delivery must not influence core state.
func (n *Notifier) Notify(ctx context.Context, kind, title, message string) {
	if len(n.events) > 0 && !n.events[kind] {
		n.logger.Debug("event filtered out", slog.String("event", kind))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", kind),
			slog.String("title", title),
		)
	}
}

// formatPrice renders a price with enough precision for small-cap symbols
// without littering large ones with trailing zeros.
func formatPrice(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
