package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeforge/okxbot/internal/domain"
	"github.com/tradeforge/okxbot/internal/exitrule"
	"github.com/tradeforge/okxbot/internal/ledger"
)

// MonitorConfig controls the evaluation loops.
type MonitorConfig struct {
	// TickInterval is how often each open position is re-evaluated.
	TickInterval time.Duration
	// MaxPriceAge is the oldest cached price the monitor accepts before
	// falling back to a direct ticker fetch.
	MaxPriceAge time.Duration
	// EntryChannel is the signal bus channel carrying entry signals. Empty
	// disables signal consumption (monitor-only mode).
	EntryChannel string
}

// Monitor runs one evaluation goroutine per open position symbol plus an
// optional entry-signal consumer. Each loop reads a price, asks the
// evaluator for an exit decision, and hands any action to the Trader.
type Monitor struct {
	cfg       MonitorConfig
	ledger    *ledger.Ledger
	evaluator *exitrule.Evaluator
	trader    *Trader
	prices    domain.PriceCache
	gateway   domain.ExchangeGateway
	signals   domain.SignalBus
	logger    *slog.Logger

	mu      sync.Mutex
	watched map[string]bool
}

// NewMonitor creates a Monitor. prices and signals may be nil: without a
// price cache every tick fetches from the gateway, without a signal bus no
// entry signals are consumed.
func NewMonitor(
	cfg MonitorConfig,
	l *ledger.Ledger,
	evaluator *exitrule.Evaluator,
	trader *Trader,
	prices domain.PriceCache,
	gateway domain.ExchangeGateway,
	signals domain.SignalBus,
	logger *slog.Logger,
) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 3 * time.Second
	}
	if cfg.MaxPriceAge <= 0 {
		cfg.MaxPriceAge = 10 * time.Second
	}
	return &Monitor{
		cfg:       cfg,
		ledger:    l,
		evaluator: evaluator,
		trader:    trader,
		prices:    prices,
		gateway:   gateway,
		signals:   signals,
		logger:    logger.With(slog.String("component", "monitor")),
		watched:   make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled. It supervises one loop per symbol
// currently in the ledger, starts loops for symbols opened later, and
// consumes entry signals when a signal bus is configured.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if m.signals != nil && m.cfg.EntryChannel != "" {
		g.Go(func() error {
			return m.consumeSignals(ctx)
		})
	}

	g.Go(func() error {
		return m.superviseLoops(ctx, g)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// superviseLoops keeps one watch goroutine alive per ledger symbol. A
// watcher releases its slot when its position leaves the ledger, so a
// symbol re-opened after a cooldown gets a fresh watcher on the next sweep.
func (m *Monitor) superviseLoops(ctx context.Context, g *errgroup.Group) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		for _, sym := range m.ledger.Symbols() {
			if !m.claimWatch(sym) {
				continue
			}
			symbol := sym
			g.Go(func() error {
				defer m.releaseWatch(symbol)
				m.watchSymbol(ctx, symbol)
				return nil
			})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// claimWatch marks symbol as watched. It returns false when a watcher is
// already running for it.
func (m *Monitor) claimWatch(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watched[symbol] {
		return false
	}
	m.watched[symbol] = true
	return true
}

// releaseWatch frees the symbol's watcher slot.
func (m *Monitor) releaseWatch(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, symbol)
}

// watchSymbol evaluates one position every tick until it leaves the ledger
// or the context ends. A transient price or gateway error skips the tick.
func (m *Monitor) watchSymbol(ctx context.Context, symbol string) {
	log := m.logger.With(slog.String("symbol", symbol))
	log.Info("watching position")

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pos, ok := m.ledger.Get(symbol)
		if !ok {
			log.Info("position gone, stopping watch")
			return
		}

		price, err := m.currentPrice(ctx, symbol)
		if err != nil {
			log.Warn("price unavailable, skipping tick", slog.String("error", err.Error()))
			continue
		}

		act := m.evaluator.Evaluate(pos, price, time.Now())
		if act == nil {
			continue
		}
		applyErr := m.trader.Apply(ctx, pos, act, price, time.Now())
		if applyErr != nil {
			log.Error("apply exit action failed",
				slog.String("kind", string(act.Kind)),
				slog.String("error", applyErr.Error()),
			)
			continue
		}
		if act.Kind == domain.ExitFullClose {
			return
		}
	}
}

// currentPrice prefers the cached ticker and falls back to a direct fetch
// when the cache misses or the entry is stale.
func (m *Monitor) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.prices != nil {
		tk, err := m.prices.GetPrice(ctx, symbol)
		if err == nil && time.Since(tk.Timestamp) <= m.cfg.MaxPriceAge {
			return tk.LastPrice, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrStalePrice) {
			m.logger.Warn("price cache read failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
	}
	tk, err := m.gateway.FetchTicker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("monitor: fetch ticker %s: %w", symbol, err)
	}
	return tk.LastPrice, nil
}

// consumeSignals subscribes to the entry channel and opens positions for
// each well-formed signal. Malformed payloads and rejected entries are
// logged and dropped.
func (m *Monitor) consumeSignals(ctx context.Context) error {
	msgs, err := m.signals.Subscribe(ctx, m.cfg.EntryChannel)
	if err != nil {
		return fmt.Errorf("monitor: subscribe %s: %w", m.cfg.EntryChannel, err)
	}
	m.logger.Info("listening for entry signals", slog.String("channel", m.cfg.EntryChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return fmt.Errorf("monitor: signal channel %s closed", m.cfg.EntryChannel)
			}
			var sig domain.EntrySignal
			if err := json.Unmarshal([]byte(payload), &sig); err != nil {
				m.logger.Warn("malformed entry signal", slog.String("error", err.Error()))
				continue
			}
			if _, err := m.trader.Open(ctx, sig, time.Now()); err != nil {
				if errors.Is(err, domain.ErrCooldown) || errors.Is(err, domain.ErrRiskRejected) || errors.Is(err, domain.ErrAlreadyExists) {
					m.logger.Info("entry rejected",
						slog.String("symbol", sig.Symbol),
						slog.String("reason", err.Error()),
					)
					continue
				}
				m.logger.Error("open position failed",
					slog.String("symbol", sig.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
