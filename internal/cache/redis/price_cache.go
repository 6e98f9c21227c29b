package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeforge/okxbot/internal/domain"
)

// priceTTL expires stale ticker hashes so a dead feed cannot serve
// day-old prices forever.
const priceTTL = 5 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol's
// ticker is stored as a hash at key "ticker:{symbol}" with fields "last" and
// "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func tickerKey(symbol string) string {
	return "ticker:" + symbol
}

// SetPrice stores the latest ticker for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, tk domain.Ticker) error {
	key := tickerKey(tk.Symbol)
	fields := map[string]interface{}{
		"last": strconv.FormatFloat(tk.LastPrice, 'f', -1, 64),
		"ts":   strconv.FormatInt(tk.Timestamp.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", tk.Symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest ticker for a symbol. It returns
// domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (domain.Ticker, error) {
	key := tickerKey(symbol)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Ticker{}, fmt.Errorf("redis: get price %s: %w", symbol, domain.ErrNotFound)
	}

	lastStr, ok := vals["last"]
	if !ok {
		return domain.Ticker{}, fmt.Errorf("redis: get price %s: %w", symbol, domain.ErrNotFound)
	}
	last, err := strconv.ParseFloat(lastStr, 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: parse last %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Ticker{}, fmt.Errorf("redis: get price %s: %w", symbol, domain.ErrNotFound)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return domain.Ticker{
		Symbol:    symbol,
		LastPrice: last,
		Timestamp: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
