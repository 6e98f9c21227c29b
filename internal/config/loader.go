package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OKXBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OKXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestURL, "OKXBOT_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WsURL, "OKXBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.ApiKey, "OKXBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "OKXBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.ApiPassphrase, "OKXBOT_EXCHANGE_API_PASSPHRASE")
	setStr(&cfg.Exchange.EncryptedCredsPath, "OKXBOT_EXCHANGE_ENCRYPTED_CREDS_PATH")
	setStr(&cfg.Exchange.CredsPassword, "OKXBOT_EXCHANGE_CREDS_PASSWORD")
	setBool(&cfg.Exchange.Simulated, "OKXBOT_EXCHANGE_SIMULATED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "OKXBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "OKXBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OKXBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OKXBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OKXBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OKXBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OKXBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OKXBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OKXBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OKXBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OKXBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OKXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OKXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OKXBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OKXBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OKXBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OKXBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OKXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OKXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "OKXBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OKXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OKXBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OKXBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OKXBOT_S3_FORCE_PATH_STYLE")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "OKXBOT_TRADING_SYMBOLS")
	setFloat64(&cfg.Trading.DefaultOrderSize, "OKXBOT_TRADING_DEFAULT_ORDER_SIZE")
	setInt(&cfg.Trading.MaxPositions, "OKXBOT_TRADING_MAX_POSITIONS")
	setFloat64(&cfg.Trading.MaxNotional, "OKXBOT_TRADING_MAX_NOTIONAL")
	setFloat64(&cfg.Trading.StopLossPct, "OKXBOT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.TakeProfitPct, "OKXBOT_TRADING_TAKE_PROFIT_PCT")
	setDuration(&cfg.Trading.TickInterval, "OKXBOT_TRADING_TICK_INTERVAL")
	setDuration(&cfg.Trading.MaxPriceAge, "OKXBOT_TRADING_MAX_PRICE_AGE")
	setStr(&cfg.Trading.EntryChannel, "OKXBOT_TRADING_ENTRY_CHANNEL")
	setBool(&cfg.Trading.DryRun, "OKXBOT_TRADING_DRY_RUN")

	// ── Exit ──
	setFloat64(&cfg.Exit.TrailingActivationPct, "OKXBOT_EXIT_TRAILING_ACTIVATION_PCT")
	setFloat64(&cfg.Exit.TrailingDistancePct, "OKXBOT_EXIT_TRAILING_DISTANCE_PCT")
	setFloat64(&cfg.Exit.BreakevenTriggerPct, "OKXBOT_EXIT_BREAKEVEN_TRIGGER_PCT")
	setFloat64(&cfg.Exit.LockTriggerPct, "OKXBOT_EXIT_LOCK_TRIGGER_PCT")
	setFloat64(&cfg.Exit.LockProfitPct, "OKXBOT_EXIT_LOCK_PROFIT_PCT")
	setDuration(&cfg.Exit.MaxHold, "OKXBOT_EXIT_MAX_HOLD")
	setFloat64(&cfg.Exit.MinProfitPct, "OKXBOT_EXIT_MIN_PROFIT_PCT")
	setFloat64(&cfg.Exit.MaxRetracementPct, "OKXBOT_EXIT_MAX_RETRACEMENT_PCT")

	// ── Cooldown ──
	setDuration(&cfg.Cooldown.Window, "OKXBOT_COOLDOWN_WINDOW")
	setStr(&cfg.Cooldown.SnapshotPath, "OKXBOT_COOLDOWN_SNAPSHOT_PATH")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OKXBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "OKXBOT_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "OKXBOT_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OKXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OKXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OKXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.EventsChannel, "OKXBOT_NOTIFY_EVENTS_CHANNEL")
	setStringSlice(&cfg.Notify.Events, "OKXBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OKXBOT_MODE")
	setStr(&cfg.LogLevel, "OKXBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
