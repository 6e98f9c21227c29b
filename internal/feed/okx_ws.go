// Package feed streams live market data into the price cache.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/gateway/okx"
)

// TickerFeed connects to the OKX public WebSocket, subscribes to tickers for
// the given symbols, and writes every update into the price cache. It
// reconnects on disconnect.
type TickerFeed struct {
	wsURL     string
	symbols   []string
	prices    domain.PriceCache
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewTickerFeed creates a feed for the given symbols.
func NewTickerFeed(wsURL string, symbols []string, prices domain.PriceCache, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:   wsURL,
		symbols: symbols,
		prices:  prices,
		logger:  logger.With(slog.String("component", "ticker_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects, subscribes to tickers for the configured symbols, and runs
// until ctx is cancelled. Reconnects with backoff on dial failure.
func (f *TickerFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ticker feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *TickerFeed) runConnection(ctx context.Context) error {
	client := okx.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnTicker(func(tk domain.Ticker) {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.prices.SetPrice(writeCtx, tk); err != nil {
			f.logger.Warn("price cache write failed",
				slog.String("symbol", tk.Symbol),
				slog.String("error", err.Error()),
			)
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.SubscribeTickers(ctx, f.symbols); err != nil {
		return err
	}
	f.logger.Info("ticker feed subscribed", slog.Int("symbols", len(f.symbols)))

	<-ctx.Done()
	return ctx.Err()
}

// Close stops the feed.
func (f *TickerFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
