package risk

import (
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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChecker(t *testing.T, cfg Config) (*Checker, *ledger.Ledger, *cooldown.Tracker) {
	t.Helper()
	l := ledger.New()
	cd, err := cooldown.New(30*time.Minute, filepath.Join(t.TempDir(), "cooldowns.json"), testLogger())
	require.NoError(t, err)
	return NewChecker(l, cd, cfg, testLogger()), l, cd
}

func openPosition(t *testing.T, l *ledger.Ledger, symbol string) {
	t.Helper()
	pos, err := domain.NewPosition(symbol, domain.SideLong, 100, 1, time.Now(), 2, 0)
	require.NoError(t, err)
	require.NoError(t, l.Open(pos))
}

func TestPreTradeCheckAllowsCleanEntry(t *testing.T) {
	c, _, _ := newTestChecker(t, Config{MaxPositions: 5, MaxNotional: 10_000})

	err := c.PreTradeCheck(domain.EntrySignal{Symbol: "BTC-USDT", Side: domain.SideLong, Amount: 0.01}, 50_000, time.Now())
	assert.NoError(t, err)
}

func TestPreTradeCheckBlocksCooldown(t *testing.T) {
	c, _, cd := newTestChecker(t, Config{MaxPositions: 5})
	now := time.Now()
	cd.Record(domain.CooldownEntry{Symbol: "BTC-USDT", CloseTime: now, ExitReason: domain.ReasonStopLoss})

	err := c.PreTradeCheck(domain.EntrySignal{Symbol: "BTC-USDT", Side: domain.SideLong, Amount: 0.01}, 50_000, now.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrCooldown)
}

func TestPreTradeCheckBlocksDuplicateSymbol(t *testing.T) {
	c, l, _ := newTestChecker(t, Config{MaxPositions: 5})
	openPosition(t, l, "ETH-USDT")

	err := c.PreTradeCheck(domain.EntrySignal{Symbol: "ETH-USDT", Side: domain.SideLong, Amount: 1}, 3_000, time.Now())
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}

func TestPreTradeCheckBlocksMaxPositions(t *testing.T) {
	c, l, _ := newTestChecker(t, Config{MaxPositions: 2})
	openPosition(t, l, "ETH-USDT")
	openPosition(t, l, "SOL-USDT")

	err := c.PreTradeCheck(domain.EntrySignal{Symbol: "BTC-USDT", Side: domain.SideLong, Amount: 0.01}, 50_000, time.Now())
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}

func TestPreTradeCheckBlocksNotional(t *testing.T) {
	c, _, _ := newTestChecker(t, Config{MaxPositions: 5, MaxNotional: 1_000})

	err := c.PreTradeCheck(domain.EntrySignal{Symbol: "BTC-USDT", Side: domain.SideLong, Amount: 0.5}, 50_000, time.Now())
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}

func TestPreTradeCheckZeroLimitsDisabled(t *testing.T) {
	c, l, _ := newTestChecker(t, Config{})
	openPosition(t, l, "ETH-USDT")

	// MaxPositions and MaxNotional of zero mean unlimited.
	err := c.PreTradeCheck(domain.EntrySignal{Symbol: "BTC-USDT", Side: domain.SideLong, Amount: 100}, 50_000, time.Now())
	assert.NoError(t, err)
}
