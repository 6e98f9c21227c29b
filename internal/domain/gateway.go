package domain

import "context"

// ExchangeGateway is the boundary to the exchange. Order placement failures
// are non-fatal to the position lifecycle: the caller leaves state unchanged
// and re-evaluates on the next tick.
type ExchangeGateway interface {
	// FetchTicker returns the latest traded price for symbol.
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	// CreateMarketOrder places a market order for amount base units. side is
	// the direction of the order itself (long = buy, short = sell).
	CreateMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (OrderResult, error)
	// FetchBalance returns the balance of the given currency.
	FetchBalance(ctx context.Context, currency string) (Balance, error)
}
