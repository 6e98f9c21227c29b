package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tradeforge/okxbot/internal/domain"
)

// BusSender publishes notifications to a signal-bus channel as JSON, letting
// external consumers (dashboards, downstream bots) follow the position
// lifecycle without scraping chat channels.
type BusSender struct {
	bus     domain.SignalBus
	channel string
}

// NewBusSender creates a BusSender publishing on the given channel.
func NewBusSender(bus domain.SignalBus, channel string) *BusSender {
	return &BusSender{bus: bus, channel: channel}
}

// Send publishes the notification as a JSON payload.
func (b *BusSender) Send(ctx context.Context, title, message string) error {
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}
	if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (b *BusSender) Name() string {
	return "bus"
}
