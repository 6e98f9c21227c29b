package exitrule

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/okxbot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultConfig() Config {
	return Config{
		TrailingActivationPct: 5,
		TrailingDistancePct:   3,
		Tiers:                 []Tier{{ProfitPct: 1, CloseFraction: 0.5}, {ProfitPct: 2, CloseFraction: 0.3}},
		BreakevenTriggerPct:   0.8,
		LockTriggerPct:        4,
		LockProfitPct:         1.5,
		MaxHold:               6 * time.Hour,
		MinProfitPct:          0.5,
		MaxRetracementPct:     8,
	}
}

func longPosition(t *testing.T, entry, amount float64) *domain.Position {
	t.Helper()
	pos, err := domain.NewPosition("BTC-USDT", domain.SideLong, entry, amount, t0, 2, 0)
	require.NoError(t, err)
	return pos
}

func TestStopLossBreach(t *testing.T) {
	ev := New(Config{}, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 98

	act := ev.Evaluate(pos, 97.99, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitFullClose, act.Kind)
	assert.Equal(t, domain.ReasonStopLoss, act.Reason)
	assert.InDelta(t, -20.1, pos.UnrealizedPnL(97.99, pos.RemainingAmount), 1e-9)
}

func TestStopLossTolerance(t *testing.T) {
	ev := New(Config{}, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 98

	// Just inside the 0.01% tolerance band still triggers.
	act := ev.Evaluate(pos, 98*(1+0.00005), t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ReasonStopLoss, act.Reason)

	// Clearly above the stop holds.
	pos2 := longPosition(t, 100, 10)
	pos2.StopLoss = 98
	assert.Nil(t, ev.Evaluate(pos2, 99, t0.Add(time.Minute)))
}

func TestTrailingStopRatchetAndBreach(t *testing.T) {
	cfg := Config{TrailingActivationPct: 5, TrailingDistancePct: 3}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	// Rise to 110: trailing activates and the stop ratchets to 106.7.
	act := ev.Evaluate(pos, 110, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitAdjustStop, act.Kind)
	assert.InDelta(t, 106.7, pos.StopLoss, 1e-9)
	assert.Equal(t, domain.StopSourceTrailing, pos.StopSource)
	assert.True(t, pos.TrailingActivated)

	// Fall to exactly 3% below the peak: stop is breached, attributed to
	// the trailing rule.
	act = ev.Evaluate(pos, 106.6, t0.Add(2*time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitFullClose, act.Kind)
	assert.Equal(t, domain.ReasonTrailingStop, act.Reason)
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	cfg := Config{TrailingActivationPct: 2, TrailingDistancePct: 3}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	ev.Evaluate(pos, 110, t0.Add(time.Minute))
	stop := pos.StopLoss

	// A lower (but still profitable, above-stop) price must not move the
	// stop down: the trail is computed from the peak, which is unchanged.
	ev.Evaluate(pos, 108, t0.Add(2*time.Minute))
	assert.Equal(t, stop, pos.StopLoss)
}

func TestTrailingActivationLatches(t *testing.T) {
	cfg := Config{TrailingActivationPct: 5, TrailingDistancePct: 3}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	// Rise to 106 activates trailing and sets the stop 3% off the peak.
	act := ev.Evaluate(pos, 106, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitAdjustStop, act.Kind)
	assert.True(t, pos.TrailingActivated)
	assert.InDelta(t, 102.82, pos.StopLoss, 1e-9)

	// A dip below the activation threshold does not deactivate: the
	// position stays trailing-owned and the stop holds.
	act = ev.Evaluate(pos, 103, t0.Add(2*time.Minute))
	assert.Nil(t, act)
	assert.True(t, pos.TrailingActivated)
	assert.InDelta(t, 102.82, pos.StopLoss, 1e-9)

	// The subsequent breach is still attributed to the trailing rule.
	act = ev.Evaluate(pos, 102.8, t0.Add(3*time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitFullClose, act.Kind)
	assert.Equal(t, domain.ReasonTrailingStop, act.Reason)
}

func TestTieredPartialProfit(t *testing.T) {
	cfg := Config{Tiers: []Tier{{ProfitPct: 1, CloseFraction: 0.5}, {ProfitPct: 2, CloseFraction: 0.3}}}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	act := ev.Evaluate(pos, 101, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitPartialClose, act.Kind)
	assert.Equal(t, "partial_profit_1", act.Reason)
	assert.InDelta(t, 5, act.Amount, 1e-9)

	// The mutator commits the latch and decrement after the order succeeds.
	pos.MarkTierTaken(act.TierID)
	pos.ReduceRemaining(act.Amount)
	assert.InDelta(t, 5, pos.RemainingAmount, 1e-9)

	act = ev.Evaluate(pos, 102, t0.Add(2*time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, "partial_profit_2", act.Reason)
	assert.InDelta(t, 1.5, act.Amount, 1e-9)

	pos.MarkTierTaken(act.TierID)
	pos.ReduceRemaining(act.Amount)
	assert.InDelta(t, 3.5, pos.RemainingAmount, 1e-9)

	// Both tiers latched: no further partials at higher prices.
	act = ev.Evaluate(pos, 103, t0.Add(3*time.Minute))
	assert.Nil(t, act)
}

func TestOnlyLowestUnfiredTierFiresPerTick(t *testing.T) {
	cfg := Config{Tiers: []Tier{{ProfitPct: 1, CloseFraction: 0.2}, {ProfitPct: 2, CloseFraction: 0.2}}}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	// A gap through both tiers fires only tier 1; tier 2 fires next tick.
	act := ev.Evaluate(pos, 105, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, "partial_profit_1", act.Reason)
	pos.MarkTierTaken(act.TierID)
	pos.ReduceRemaining(act.Amount)

	act = ev.Evaluate(pos, 105, t0.Add(2*time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, "partial_profit_2", act.Reason)
}

func TestTierDrainingPositionBecomesFullClose(t *testing.T) {
	cfg := Config{Tiers: []Tier{{ProfitPct: 1, CloseFraction: 1.0}}}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	act := ev.Evaluate(pos, 102, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitFullClose, act.Kind)
	assert.Equal(t, "partial_profit_1", act.Reason)
}

func TestBreakevenLatch(t *testing.T) {
	cfg := Config{BreakevenTriggerPct: 1}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 98

	act := ev.Evaluate(pos, 101, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitAdjustStop, act.Kind)
	assert.Equal(t, 100.0, pos.StopLoss)
	assert.True(t, pos.BreakevenActivated)

	// The latch fires exactly once.
	act = ev.Evaluate(pos, 101.5, t0.Add(2*time.Minute))
	assert.Nil(t, act)
	assert.Equal(t, 100.0, pos.StopLoss)
}

func TestProfitLock(t *testing.T) {
	cfg := Config{LockTriggerPct: 4, LockProfitPct: 1.5}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 98

	act := ev.Evaluate(pos, 104, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitAdjustStop, act.Kind)
	assert.InDelta(t, 101.5, pos.StopLoss, 1e-9)
	assert.True(t, pos.ProfitLocked)
	assert.Equal(t, domain.StopSourceProfitLock, pos.StopSource)
}

func TestTimeLimit(t *testing.T) {
	cfg := Config{MaxHold: time.Hour, MinProfitPct: 0.5}
	ev := New(cfg, testLogger())

	// Profitable beyond the minimum: close.
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0
	act := ev.Evaluate(pos, 101, t0.Add(2*time.Hour))
	require.NotNil(t, act)
	assert.Equal(t, domain.ReasonTimeLimit, act.Reason)

	// Losing: close flat losers after the limit.
	pos = longPosition(t, 100, 10)
	pos.StopLoss = 0
	act = ev.Evaluate(pos, 99.5, t0.Add(2*time.Hour))
	require.NotNil(t, act)
	assert.Equal(t, domain.ReasonTimeLimit, act.Reason)

	// In the [0, min) band: keep holding.
	pos = longPosition(t, 100, 10)
	pos.StopLoss = 0
	assert.Nil(t, ev.Evaluate(pos, 100.2, t0.Add(2*time.Hour)))

	// Before the limit nothing fires.
	pos = longPosition(t, 100, 10)
	pos.StopLoss = 0
	assert.Nil(t, ev.Evaluate(pos, 101, t0.Add(30*time.Minute)))
}

func TestEmergencyDrawdown(t *testing.T) {
	cfg := Config{MaxRetracementPct: 8}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	require.Nil(t, ev.Evaluate(pos, 120, t0.Add(time.Minute)))

	// 10% off the 120 peak exceeds the 8% retracement limit.
	act := ev.Evaluate(pos, 108, t0.Add(2*time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ReasonEmergencyDrawdown, act.Reason)
}

func TestShortSideMirrors(t *testing.T) {
	cfg := Config{TrailingActivationPct: 5, TrailingDistancePct: 3}
	ev := New(cfg, testLogger())
	pos, err := domain.NewPosition("ETH-USDT", domain.SideShort, 100, 10, t0, 2, 0)
	require.NoError(t, err)
	assert.InDelta(t, 102, pos.StopLoss, 1e-9)

	// Price falls to 90: 10% profit for a short, trail ratchets down to 92.7.
	act := ev.Evaluate(pos, 90, t0.Add(time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ExitAdjustStop, act.Kind)
	assert.InDelta(t, 92.7, pos.StopLoss, 1e-9)

	// Bounce to the trail: trailing-stop exit.
	act = ev.Evaluate(pos, 92.7, t0.Add(2*time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.ReasonTrailingStop, act.Reason)
}

func TestShortStopNeverIncreases(t *testing.T) {
	pos, err := domain.NewPosition("ETH-USDT", domain.SideShort, 100, 10, t0, 2, 0)
	require.NoError(t, err)

	require.True(t, pos.TightenStop(101, domain.StopSourceTrailing))
	assert.False(t, pos.TightenStop(103, domain.StopSourceTrailing))
	assert.InDelta(t, 101, pos.StopLoss, 1e-9)
}

func TestZeroEntryPriceIsHeldNotPanic(t *testing.T) {
	ev := New(defaultConfig(), testLogger())
	pos := longPosition(t, 100, 10)
	pos.EntryPrice = 0 // corrupted upstream

	assert.NotPanics(t, func() {
		assert.Nil(t, ev.Evaluate(pos, 100, t0.Add(time.Minute)))
	})
}

func TestZeroRemainingIsHeld(t *testing.T) {
	ev := New(defaultConfig(), testLogger())
	pos := longPosition(t, 100, 10)
	pos.RemainingAmount = 0

	assert.Nil(t, ev.Evaluate(pos, 90, t0.Add(time.Minute)))
}

func TestStopRatchetWithCloseSameTick(t *testing.T) {
	// A single tick may both ratchet the stop and close the position: gap
	// far above the activation threshold, then the time limit also holds.
	cfg := Config{
		TrailingActivationPct: 1,
		TrailingDistancePct:   50, // trail stays far below, no trailing exit
		MaxHold:               time.Hour,
		MinProfitPct:          0.5,
	}
	ev := New(cfg, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 90

	act := ev.Evaluate(pos, 110, t0.Add(2*time.Hour))
	require.NotNil(t, act)
	assert.Equal(t, domain.ReasonTimeLimit, act.Reason)
	// The trailing ratchet still happened in the same call: 110 * 0.5 = 55
	// is below the existing stop, so the stop must be unchanged.
	assert.InDelta(t, 90, pos.StopLoss, 1e-9)
	assert.True(t, pos.TrailingActivated)
}

func TestExtremaMonotonic(t *testing.T) {
	ev := New(Config{}, testLogger())
	pos := longPosition(t, 100, 10)
	pos.StopLoss = 0

	for _, price := range []float64{105, 95, 110, 90, 102} {
		ev.Evaluate(pos, price, t0.Add(time.Minute))
	}
	assert.Equal(t, 110.0, pos.HighestPrice)
	assert.Equal(t, 90.0, pos.LowestPrice)
}
