package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.DryRun = true // no credentials in defaults

	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Redis.Addr = ""
	cfg.Trading.Symbols = nil
	cfg.Trading.DefaultOrderSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "symbols must not be empty")
	assert.Contains(t, err.Error(), "default_order_size")
}

func TestValidateTradeModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Trading.DryRun = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_secret or encrypted_creds_path")

	cfg.Exchange.ApiSecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateTierOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.DryRun = true
	cfg.Exit.Tiers = []TierConfig{
		{ProfitPct: 2.0, CloseFraction: 0.5},
		{ProfitPct: 1.0, CloseFraction: 0.3},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must increase")
}

func TestValidateArchiveRequiresPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.DryRun = true
	cfg.Archive.Enabled = true
	cfg.Postgres.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires postgres")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"
log_level = "debug"

[trading]
symbols = ["SOL-USDT"]
tick_interval = "5s"

[cooldown]
window = "1h"

[[exit.tiers]]
profit_pct = 3.0
close_fraction = 0.25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"SOL-USDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 5*time.Second, cfg.Trading.TickInterval.Duration)
	assert.Equal(t, time.Hour, cfg.Cooldown.Window.Duration)
	require.Len(t, cfg.Exit.Tiers, 1)
	assert.Equal(t, 3.0, cfg.Exit.Tiers[0].ProfitPct)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://www.okx.com", cfg.Exchange.RestURL)
	assert.Equal(t, 5, cfg.Trading.MaxPositions)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OKXBOT_MODE", "monitor")
	t.Setenv("OKXBOT_EXCHANGE_API_SECRET", "from-env")
	t.Setenv("OKXBOT_TRADING_SYMBOLS", "BTC-USDT, ETH-USDT")
	t.Setenv("OKXBOT_TRADING_TICK_INTERVAL", "7s")
	t.Setenv("OKXBOT_TRADING_DRY_RUN", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "from-env", cfg.Exchange.ApiSecret)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 7*time.Second, cfg.Trading.TickInterval.Duration)
	assert.True(t, cfg.Trading.DryRun)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.ApiSecret = "secret"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Exchange.ApiSecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)

	// Original untouched and empty fields left empty.
	assert.Equal(t, "secret", cfg.Exchange.ApiSecret)
	assert.Empty(t, out.Exchange.ApiKey)
}
