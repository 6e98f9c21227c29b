package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/okxbot/internal/cooldown"
	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/ledger"
	"github.com/tradeforge/okxbot/internal/notify"
	"github.com/tradeforge/okxbot/internal/risk"
)

// fakeGateway scripts ticker prices and order outcomes per symbol.
type fakeGateway struct {
	price      float64
	orderErr   error
	fillPrice  float64
	orderCalls int
}

func (f *fakeGateway) FetchTicker(_ context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{Symbol: symbol, LastPrice: f.price, Timestamp: time.Now()}, nil
}

func (f *fakeGateway) CreateMarketOrder(_ context.Context, _ string, _ domain.Side, _ float64) (domain.OrderResult, error) {
	f.orderCalls++
	if f.orderErr != nil {
		return domain.OrderResult{}, f.orderErr
	}
	return domain.OrderResult{OrderID: "ord-1", FilledPrice: f.fillPrice, FilledAt: time.Now()}, nil
}

func (f *fakeGateway) FetchBalance(_ context.Context, currency string) (domain.Balance, error) {
	return domain.Balance{Currency: currency, Total: 10000, Available: 10000}, nil
}

func newTestTrader(t *testing.T, gw *fakeGateway) (*Trader, *ledger.Ledger, *cooldown.Tracker) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New()
	cd, err := cooldown.New(30*time.Minute, filepath.Join(t.TempDir(), "cooldowns.json"), logger)
	require.NoError(t, err)
	checker := risk.NewChecker(l, cd, risk.Config{MaxPositions: 5, MaxNotional: 1_000_000}, logger)
	notifier := notify.New(nil, nil, logger)

	cfg := TraderConfig{DefaultOrderSize: 1, StopLossPct: 2, TakeProfitPct: 10}
	return NewTrader(cfg, l, gw, nil, cd, checker, notifier, logger), l, cd
}

func TestOpenRegistersPosition(t *testing.T) {
	gw := &fakeGateway{price: 100, fillPrice: 100.5}
	trader, l, _ := newTestTrader(t, gw)

	pos, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "BTC-USDT", Side: domain.SideLong, Amount: 2}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 100.5, pos.EntryPrice, "fill price should override ticker price")
	assert.Equal(t, 2.0, pos.RemainingAmount)

	got, ok := l.Get("BTC-USDT")
	require.True(t, ok)
	assert.Same(t, pos, got)
}

func TestOpenRejectedDuringCooldown(t *testing.T) {
	gw := &fakeGateway{price: 100}
	trader, l, cd := newTestTrader(t, gw)

	cd.Record(domain.CooldownEntry{Symbol: "BTC-USDT", CloseTime: time.Now()})

	_, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "BTC-USDT", Side: domain.SideLong, Amount: 1}, time.Now())
	require.ErrorIs(t, err, domain.ErrCooldown)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, gw.orderCalls, "no order may be placed for a blocked symbol")
}

func TestFullCloseRemovesPositionAndRecordsCooldown(t *testing.T) {
	gw := &fakeGateway{price: 100, fillPrice: 100}
	trader, l, cd := newTestTrader(t, gw)

	pos, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "ETH-USDT", Side: domain.SideLong, Amount: 3}, time.Now())
	require.NoError(t, err)

	gw.fillPrice = 97.9
	act := domain.FullClose("stop_loss")
	now := time.Now()
	require.NoError(t, trader.Apply(context.Background(), pos, act, 97.9, now))

	_, ok := l.Get("ETH-USDT")
	assert.False(t, ok, "closed position must leave the ledger")

	assert.Equal(t, 1, cd.Len(), "exactly one cooldown entry per close")
	entry, ok := cd.Entry("ETH-USDT")
	require.True(t, ok)
	assert.Equal(t, "stop_loss", entry.ExitReason)
	assert.Equal(t, 97.9, entry.ExitPrice)
	assert.InDelta(t, (97.9-100)*3, entry.RealizedPnL, 1e-9)
	assert.True(t, cd.IsBlocked("ETH-USDT", now.Add(29*time.Minute)))
}

func TestFailedCloseLeavesPositionUntouched(t *testing.T) {
	gw := &fakeGateway{price: 100, fillPrice: 100}
	trader, l, cd := newTestTrader(t, gw)

	pos, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "SOL-USDT", Side: domain.SideLong, Amount: 10}, time.Now())
	require.NoError(t, err)
	pos.ObservePrice(103)
	pos.MarkTierTaken("1")
	pos.ReduceRemaining(5)

	before := *pos
	beforeTiers := make(map[string]bool, len(pos.PartialExitsTaken))
	for k, v := range pos.PartialExitsTaken {
		beforeTiers[k] = v
	}

	gw.orderErr = errors.New("okx: 51008 insufficient balance")
	err = trader.Apply(context.Background(), pos, domain.FullClose("emergency_drawdown"), 97, time.Now())
	require.Error(t, err)

	got, ok := l.Get("SOL-USDT")
	require.True(t, ok, "failed close must not remove the position")
	assert.Equal(t, before.RemainingAmount, got.RemainingAmount)
	assert.Equal(t, before.StopLoss, got.StopLoss)
	assert.Equal(t, before.StopSource, got.StopSource)
	assert.Equal(t, before.HighestPrice, got.HighestPrice)
	assert.Equal(t, before.LowestPrice, got.LowestPrice)
	assert.Equal(t, beforeTiers, got.PartialExitsTaken)
	assert.Equal(t, 0, cd.Len(), "failed close must not record a cooldown")
}

func TestFailedPartialCloseDoesNotLatchTier(t *testing.T) {
	gw := &fakeGateway{price: 100, fillPrice: 100}
	trader, _, _ := newTestTrader(t, gw)

	pos, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "XRP-USDT", Side: domain.SideLong, Amount: 10}, time.Now())
	require.NoError(t, err)

	gw.orderErr = errors.New("okx: 50011 rate limited")
	act := domain.PartialClose(5, "tier_1", "1")
	err = trader.Apply(context.Background(), pos, act, 101, time.Now())
	require.Error(t, err)

	assert.False(t, pos.TierTaken("1"), "tier latches only after a successful order")
	assert.Equal(t, 10.0, pos.RemainingAmount)
}

func TestPartialCloseLatchesTierAndReducesRemaining(t *testing.T) {
	gw := &fakeGateway{price: 100, fillPrice: 101}
	trader, l, _ := newTestTrader(t, gw)

	pos, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "DOGE-USDT", Side: domain.SideLong, Amount: 10}, time.Now())
	require.NoError(t, err)

	act := domain.PartialClose(5, "tier_1", "1")
	require.NoError(t, trader.Apply(context.Background(), pos, act, 101, time.Now()))

	assert.True(t, pos.TierTaken("1"))
	assert.Equal(t, 5.0, pos.RemainingAmount)

	_, ok := l.Get("DOGE-USDT")
	assert.True(t, ok, "partially closed position stays in the ledger")
}

func TestAdjustStopKeepsPositionOpen(t *testing.T) {
	gw := &fakeGateway{price: 100, fillPrice: 100}
	trader, l, _ := newTestTrader(t, gw)

	pos, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "ADA-USDT", Side: domain.SideLong, Amount: 4}, time.Now())
	require.NoError(t, err)
	pos.TightenStop(99.5, domain.StopSourceTrailing)

	calls := gw.orderCalls
	require.NoError(t, trader.Apply(context.Background(), pos, domain.AdjustStop(99.5), 102, time.Now()))

	assert.Equal(t, calls, gw.orderCalls, "adjust_stop must not place orders")
	_, ok := l.Get("ADA-USDT")
	assert.True(t, ok)
	assert.Equal(t, 99.5, pos.StopLoss)
}

func TestDryRunPlacesNoOrders(t *testing.T) {
	gw := &fakeGateway{price: 100}
	trader, l, _ := newTestTrader(t, gw)
	trader.cfg.DryRun = true

	pos, err := trader.Open(context.Background(), domain.EntrySignal{Symbol: "LTC-USDT", Side: domain.SideShort, Amount: 2}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, gw.orderCalls)
	assert.Equal(t, 100.0, pos.EntryPrice, "dry run uses the ticker price")

	require.NoError(t, trader.Apply(context.Background(), pos, domain.FullClose("time_limit"), 99, time.Now()))
	assert.Equal(t, 0, gw.orderCalls)
	_, ok := l.Get("LTC-USDT")
	assert.False(t, ok)
}
