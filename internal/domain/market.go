package domain

import "time"

// Ticker is the latest traded price for an instrument.
type Ticker struct {
	Symbol    string
	LastPrice float64
	Timestamp time.Time
}

// OrderResult is what the exchange reports back for a filled market order.
type OrderResult struct {
	OrderID     string
	FilledPrice float64
	FilledAt    time.Time
}

// Balance is a single currency balance on the exchange account.
type Balance struct {
	Currency  string
	Total     float64
	Available float64
}
