package domain

// ExitActionKind enumerates the state transitions the exit rules can request.
type ExitActionKind string

const (
	ExitFullClose    ExitActionKind = "full_close"
	ExitPartialClose ExitActionKind = "partial_close"
	ExitAdjustStop   ExitActionKind = "adjust_stop"
)

// Exit reasons attached to full closes.
const (
	ReasonStopLoss          = "stop_loss"
	ReasonTrailingStop      = "trailing_stop"
	ReasonTimeLimit         = "time_limit"
	ReasonEmergencyDrawdown = "emergency_drawdown"
)

// ExitAction is the single action an evaluation tick can request for a
// position. Amount and TierID are set only for partial closes; NewStop only
// for stop adjustments.
type ExitAction struct {
	Kind    ExitActionKind
	Reason  string
	Amount  float64
	TierID  string
	NewStop float64
}

// FullClose builds a full-close action with the given exit reason.
func FullClose(reason string) *ExitAction {
	return &ExitAction{Kind: ExitFullClose, Reason: reason}
}

// PartialClose builds a partial-close action for amount base units,
// attributed to the given tier.
func PartialClose(amount float64, reason, tierID string) *ExitAction {
	return &ExitAction{Kind: ExitPartialClose, Reason: reason, Amount: amount, TierID: tierID}
}

// AdjustStop builds a stop-adjustment action recording the already-ratcheted
// stop level.
func AdjustStop(newStop float64) *ExitAction {
	return &ExitAction{Kind: ExitAdjustStop, NewStop: newStop}
}
