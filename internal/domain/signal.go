package domain

// Notification event kinds emitted by the trading core.
const (
	EventOpened        = "opened"
	EventPartialClosed = "partial_closed"
	EventStopAdjusted  = "stop_adjusted"
	EventClosed        = "closed"
	EventCloseFailed   = "close_failed"
)

// EntrySignal is an externally produced entry decision, delivered as JSON on
// the configured signal-bus channel. Amount is in base-asset units; when
// zero the configured default order size is used.
type EntrySignal struct {
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Amount float64 `json:"amount,omitempty"`
	Source string  `json:"source,omitempty"`
}
