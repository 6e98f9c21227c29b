package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/tradeforge/okxbot/internal/blob/s3"
	"github.com/tradeforge/okxbot/internal/cache/redis"
	"github.com/tradeforge/okxbot/internal/config"
	"github.com/tradeforge/okxbot/internal/cooldown"
	"github.com/tradeforge/okxbot/internal/crypto"
	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/exitrule"
	"github.com/tradeforge/okxbot/internal/gateway/okx"
	"github.com/tradeforge/okxbot/internal/ledger"
	"github.com/tradeforge/okxbot/internal/notify"
	"github.com/tradeforge/okxbot/internal/risk"
	"github.com/tradeforge/okxbot/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Core lifecycle state
	Ledger    *ledger.Ledger
	Cooldowns *cooldown.Tracker
	Evaluator *exitrule.Evaluator
	Checker   *risk.Checker

	// Exchange
	Gateway domain.ExchangeGateway

	// Persistence (nil when postgres is disabled)
	Trades domain.TradeStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage (nil unless archive is enabled)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Core lifecycle state ---
	deps.Ledger = ledger.New()

	cd, err := cooldown.New(cfg.Cooldown.Window.Duration, cfg.Cooldown.SnapshotPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: cooldown tracker: %w", err)
	}
	deps.Cooldowns = cd

	deps.Evaluator = exitrule.New(exitConfig(cfg.Exit), logger)
	deps.Checker = risk.NewChecker(deps.Ledger, deps.Cooldowns, risk.Config{
		MaxPositions: cfg.Trading.MaxPositions,
		MaxNotional:  cfg.Trading.MaxNotional,
	}, logger)

	// --- Exchange gateway ---
	auth, err := crypto.LoadCredentials(crypto.CredsConfig{
		Key:           cfg.Exchange.ApiKey,
		Secret:        cfg.Exchange.ApiSecret,
		Passphrase:    cfg.Exchange.ApiPassphrase,
		EncryptedPath: cfg.Exchange.EncryptedCredsPath,
		Password:      cfg.Exchange.CredsPassword,
	})
	if err != nil {
		if strings.ToLower(cfg.Mode) == "trade" && !cfg.Trading.DryRun {
			return nil, nil, fmt.Errorf("wire: exchange credentials: %w", err)
		}
		logger.Warn("exchange credentials unavailable, private endpoints disabled",
			slog.String("error", err.Error()),
		)
	}
	gateway := okx.New(cfg.Exchange.RestURL, &auth, cfg.Exchange.Simulated, logger)
	deps.Gateway = gateway

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	gateway.SetRateLimiter(deps.RateLimiter)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Trades = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- S3 blob storage (only when the archiver runs) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		if deps.Trades != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Trades, cfg.Archive.Prefix, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.EventsChannel != "" {
		senders = append(senders, notify.NewBusSender(deps.SignalBus, cfg.Notify.EventsChannel))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// exitConfig converts the TOML exit section into the evaluator's config.
func exitConfig(c config.ExitConfig) exitrule.Config {
	tiers := make([]exitrule.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, exitrule.Tier{
			ProfitPct:     t.ProfitPct,
			CloseFraction: t.CloseFraction,
		})
	}
	return exitrule.Config{
		TrailingActivationPct: c.TrailingActivationPct,
		TrailingDistancePct:   c.TrailingDistancePct,
		Tiers:                 tiers,
		BreakevenTriggerPct:   c.BreakevenTriggerPct,
		LockTriggerPct:        c.LockTriggerPct,
		LockProfitPct:         c.LockProfitPct,
		MaxHold:               c.MaxHold.Duration,
		MinProfitPct:          c.MinProfitPct,
		MaxRetracementPct:     c.MaxRetracementPct,
	}
}
