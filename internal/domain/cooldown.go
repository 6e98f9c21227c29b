package domain

import "time"

// CooldownEntry records a fully closed position. While younger than the
// configured window it suppresses re-entry into the same symbol.
type CooldownEntry struct {
	Symbol      string    `json:"symbol"`
	CloseTime   time.Time `json:"close_time"`
	RealizedPnL float64   `json:"realized_pnl"`
	ExitPrice   float64   `json:"exit_price"`
	ExitReason  string    `json:"exit_reason"`
}
