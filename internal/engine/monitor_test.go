package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/okxbot/internal/cooldown"
	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/exitrule"
	"github.com/tradeforge/okxbot/internal/ledger"
	"github.com/tradeforge/okxbot/internal/notify"
	"github.com/tradeforge/okxbot/internal/risk"
)

// priceGateway is a mutex-guarded gateway fake: the monitor goroutines read
// the price while the test moves it.
type priceGateway struct {
	mu    sync.Mutex
	price float64
}

func (g *priceGateway) setPrice(p float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.price = p
}

func (g *priceGateway) FetchTicker(_ context.Context, symbol string) (domain.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.Ticker{Symbol: symbol, LastPrice: g.price, Timestamp: time.Now()}, nil
}

func (g *priceGateway) CreateMarketOrder(_ context.Context, _ string, _ domain.Side, _ float64) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.OrderResult{OrderID: "ord-1", FilledPrice: g.price, FilledAt: time.Now()}, nil
}

func (g *priceGateway) FetchBalance(_ context.Context, currency string) (domain.Balance, error) {
	return domain.Balance{Currency: currency, Total: 10000, Available: 10000}, nil
}

func newTestMonitor(t *testing.T, gw *priceGateway) (*Monitor, *ledger.Ledger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New()
	cd, err := cooldown.New(time.Minute, filepath.Join(t.TempDir(), "cooldowns.json"), logger)
	require.NoError(t, err)
	checker := risk.NewChecker(l, cd, risk.Config{}, logger)
	notifier := notify.New(nil, nil, logger)
	trader := NewTrader(TraderConfig{DefaultOrderSize: 1}, l, gw, nil, cd, checker, notifier, logger)
	evaluator := exitrule.New(exitrule.Config{}, logger)

	return NewMonitor(MonitorConfig{TickInterval: 10 * time.Millisecond}, l, evaluator, trader, nil, gw, nil, logger), l
}

func openAt(t *testing.T, l *ledger.Ledger, symbol string, entry float64) *domain.Position {
	t.Helper()
	pos, err := domain.NewPosition(symbol, domain.SideLong, entry, 1, time.Now(), 2, 0)
	require.NoError(t, err)
	require.NoError(t, l.Open(pos))
	return pos
}

func TestMonitorStopsOutOpenPosition(t *testing.T) {
	gw := &priceGateway{price: 100}
	m, l := newTestMonitor(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	openAt(t, l, "BTC-USDT", 100)
	gw.setPrice(90)

	require.Eventually(t, func() bool {
		_, ok := l.Get("BTC-USDT")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "stop breach must close the position")

	cancel()
	assert.NoError(t, <-done)
}

func TestMonitorRewatchesReopenedSymbol(t *testing.T) {
	gw := &priceGateway{price: 100}
	m, l := newTestMonitor(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// First position on the symbol is stopped out.
	openAt(t, l, "ETH-USDT", 100)
	gw.setPrice(90)
	require.Eventually(t, func() bool {
		_, ok := l.Get("ETH-USDT")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// A second position on the same symbol must get a fresh watcher and be
	// stopped out just the same.
	gw.setPrice(100)
	openAt(t, l, "ETH-USDT", 100)
	gw.setPrice(90)
	require.Eventually(t, func() bool {
		_, ok := l.Get("ETH-USDT")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "re-opened symbol must be watched again")

	cancel()
	assert.NoError(t, <-done)
}
