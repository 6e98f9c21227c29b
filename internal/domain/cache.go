package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest tickers, fed by the
// websocket ticker stream and read by the monitor loops.
type PriceCache interface {
	SetPrice(ctx context.Context, ticker Ticker) error
	GetPrice(ctx context.Context, symbol string) (Ticker, error)
}

// SignalBus provides pub/sub messaging. Entry decisions reach the bot as
// payloads on a configured channel; lifecycle events are published for
// external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed locks, used to keep a second bot instance
// from trading the same account.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles outbound requests shared across processes.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for key is allowed or ctx ends.
	Wait(ctx context.Context, key string) error
}
