// Package config defines the top-level configuration for the trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OKXBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Trading  TradingConfig  `toml:"trading"`
	Exit     ExitConfig     `toml:"exit"`
	Cooldown CooldownConfig `toml:"cooldown"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds OKX API endpoints and credentials.
type ExchangeConfig struct {
	RestURL            string `toml:"rest_url"`
	WsURL              string `toml:"ws_url"`
	ApiKey             string `toml:"api_key"`
	ApiSecret          string `toml:"api_secret"`
	ApiPassphrase      string `toml:"api_passphrase"`
	EncryptedCredsPath string `toml:"encrypted_creds_path"`
	CredsPassword      string `toml:"creds_password"`
	Simulated          bool   `toml:"simulated"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TradingConfig holds the entry-side and monitoring parameters.
type TradingConfig struct {
	Symbols          []string `toml:"symbols"`
	DefaultOrderSize float64  `toml:"default_order_size"`
	MaxPositions     int      `toml:"max_positions"`
	MaxNotional      float64  `toml:"max_notional"`
	StopLossPct      float64  `toml:"stop_loss_pct"`
	TakeProfitPct    float64  `toml:"take_profit_pct"`
	TickInterval     duration `toml:"tick_interval"`
	MaxPriceAge      duration `toml:"max_price_age"`
	EntryChannel     string   `toml:"entry_channel"`
	DryRun           bool     `toml:"dry_run"`
}

// TierConfig is one partial-profit tier.
type TierConfig struct {
	ProfitPct     float64 `toml:"profit_pct"`
	CloseFraction float64 `toml:"close_fraction"`
}

// ExitConfig holds the exit-rule parameters.
type ExitConfig struct {
	TrailingActivationPct float64      `toml:"trailing_activation_pct"`
	TrailingDistancePct   float64      `toml:"trailing_distance_pct"`
	Tiers                 []TierConfig `toml:"tiers"`
	BreakevenTriggerPct   float64      `toml:"breakeven_trigger_pct"`
	LockTriggerPct        float64      `toml:"lock_trigger_pct"`
	LockProfitPct         float64      `toml:"lock_profit_pct"`
	MaxHold               duration     `toml:"max_hold"`
	MinProfitPct          float64      `toml:"min_profit_pct"`
	MaxRetracementPct     float64      `toml:"max_retracement_pct"`
}

// CooldownConfig holds the re-entry cooldown parameters.
type CooldownConfig struct {
	Window       duration `toml:"window"`
	SnapshotPath string   `toml:"snapshot_path"`
}

// ArchiveConfig holds the closed-trade export parameters.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	EventsChannel     string   `toml:"events_channel"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestURL:   "https://www.okx.com",
			WsURL:     "wss://ws.okx.com:8443/ws/v5/public",
			Simulated: true,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "okxbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "okxbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Trading: TradingConfig{
			Symbols:          []string{"BTC-USDT"},
			DefaultOrderSize: 0.01,
			MaxPositions:     5,
			MaxNotional:      10_000,
			StopLossPct:      2.0,
			TakeProfitPct:    0,
			TickInterval:     duration{3 * time.Second},
			MaxPriceAge:      duration{10 * time.Second},
			EntryChannel:     "okxbot:signals",
			DryRun:           false,
		},
		Exit: ExitConfig{
			TrailingActivationPct: 3.0,
			TrailingDistancePct:   3.0,
			Tiers: []TierConfig{
				{ProfitPct: 1.0, CloseFraction: 0.5},
				{ProfitPct: 2.0, CloseFraction: 0.3},
			},
			BreakevenTriggerPct: 1.5,
			LockTriggerPct:      5.0,
			LockProfitPct:       2.0,
			MaxHold:             duration{48 * time.Hour},
			MinProfitPct:        0.5,
			MaxRetracementPct:   15.0,
		},
		Cooldown: CooldownConfig{
			Window:       duration{30 * time.Minute},
			SnapshotPath: "cooldowns.json",
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{24 * time.Hour},
			Prefix:   "archive/trades",
		},
		Notify: NotifyConfig{
			EventsChannel: "okxbot:events",
			Events:        []string{"opened", "partial_closed", "closed", "close_failed"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange — trade mode needs a credential source.
	if strings.ToLower(c.Mode) == "trade" && !c.Trading.DryRun {
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedCredsPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_creds_path must be set for mode trade")
		}
		if c.Exchange.EncryptedCredsPath != "" && c.Exchange.CredsPassword == "" {
			errs = append(errs, "exchange: creds_password is required when encrypted_creds_path is set")
		}
	}
	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty")
	}
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only needed when the archiver runs.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres to be enabled")
		}
	}

	// Trading
	if len(c.Trading.Symbols) == 0 {
		errs = append(errs, "trading: symbols must not be empty")
	}
	if c.Trading.DefaultOrderSize <= 0 {
		errs = append(errs, "trading: default_order_size must be > 0")
	}
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if c.Trading.StopLossPct < 0 {
		errs = append(errs, "trading: stop_loss_pct must be >= 0")
	}
	if c.Trading.TickInterval.Duration <= 0 {
		errs = append(errs, "trading: tick_interval must be > 0")
	}

	// Exit
	if c.Exit.TrailingDistancePct < 0 {
		errs = append(errs, "exit: trailing_distance_pct must be >= 0")
	}
	if c.Exit.MinProfitPct < 0 {
		errs = append(errs, "exit: min_profit_pct must be >= 0")
	}
	prev := 0.0
	for i, t := range c.Exit.Tiers {
		if t.ProfitPct <= 0 {
			errs = append(errs, fmt.Sprintf("exit: tiers[%d].profit_pct must be > 0", i))
		}
		if t.CloseFraction <= 0 || t.CloseFraction > 1 {
			errs = append(errs, fmt.Sprintf("exit: tiers[%d].close_fraction must be in (0, 1], got %v", i, t.CloseFraction))
		}
		if t.ProfitPct <= prev && i > 0 {
			errs = append(errs, fmt.Sprintf("exit: tiers[%d].profit_pct must increase over the previous tier", i))
		}
		prev = t.ProfitPct
	}

	// Cooldown
	if c.Cooldown.Window.Duration < 0 {
		errs = append(errs, "cooldown: window must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
