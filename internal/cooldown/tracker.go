// Package cooldown suppresses re-entry into a symbol for a fixed window
// after its position was fully closed, preventing rapid re-trading
// oscillation. The tracked set is persisted as a JSON snapshot so cooldowns
// survive process restarts.
package cooldown

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tradeforge/okxbot/internal/domain"
)

// Tracker holds the symbols currently in cooldown. Expired entries are
// purged opportunistically on lookup rather than on a timer, which bounds
// the tracked set without a background goroutine.
type Tracker struct {
	mu           sync.Mutex
	window       time.Duration
	snapshotPath string
	entries      map[string]domain.CooldownEntry
	logger       *slog.Logger
}

// New creates a Tracker and loads the snapshot at snapshotPath if it exists.
// Entries already past the window at load time are discarded rather than
// reinstated; a missing file means no symbols are in cooldown.
func New(window time.Duration, snapshotPath string, logger *slog.Logger) (*Tracker, error) {
	t := &Tracker{
		window:       window,
		snapshotPath: snapshotPath,
		entries:      make(map[string]domain.CooldownEntry),
		logger:       logger.With(slog.String("component", "cooldown")),
	}
	if err := t.load(time.Now().UTC()); err != nil {
		return nil, err
	}
	return t, nil
}

// Record registers a cooldown entry for a freshly closed symbol and rewrites
// the snapshot. Snapshot write failures are logged only: durability is best
// effort and must not block the in-memory decision.
func (t *Tracker) Record(entry domain.CooldownEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.Symbol] = entry
	t.persistLocked()
}

// IsBlocked reports whether symbol is still inside its cooldown window at
// now. Every lookup also purges all expired entries; an entry whose age has
// reached the window never blocks.
func (t *Tracker) IsBlocked(symbol string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	purged := t.purgeLocked(now)
	if purged > 0 {
		t.persistLocked()
	}

	_, ok := t.entries[symbol]
	return ok
}

// Entry returns the cooldown entry for symbol, if one is currently tracked.
func (t *Tracker) Entry(symbol string) (domain.CooldownEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	return e, ok
}

// Len returns the number of tracked entries, expired or not.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) purgeLocked(now time.Time) int {
	purged := 0
	for symbol, e := range t.entries {
		if now.Sub(e.CloseTime) >= t.window {
			delete(t.entries, symbol)
			purged++
		}
	}
	return purged
}

// persistLocked rewrites the snapshot atomically (temp file + rename).
func (t *Tracker) persistLocked() {
	if t.snapshotPath == "" {
		return
	}
	data, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		t.logger.Error("marshal snapshot failed", slog.String("error", err.Error()))
		return
	}

	dir := filepath.Dir(t.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".cooldown-*.json")
	if err != nil {
		t.logger.Error("snapshot temp file failed", slog.String("error", err.Error()))
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		t.logger.Error("snapshot write failed", slog.String("error", err.Error()))
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		t.logger.Error("snapshot close failed", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmp.Name(), t.snapshotPath); err != nil {
		_ = os.Remove(tmp.Name())
		t.logger.Error("snapshot rename failed", slog.String("error", err.Error()))
	}
}

func (t *Tracker) load(now time.Time) error {
	if t.snapshotPath == "" {
		return nil
	}
	data, err := os.ReadFile(t.snapshotPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cooldown: read snapshot %s: %w", t.snapshotPath, err)
	}

	var entries map[string]domain.CooldownEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("cooldown: parse snapshot %s: %w", t.snapshotPath, err)
	}

	loaded, dropped := 0, 0
	for symbol, e := range entries {
		if now.Sub(e.CloseTime) >= t.window {
			dropped++
			continue
		}
		t.entries[symbol] = e
		loaded++
	}
	t.logger.Info("cooldown snapshot loaded",
		slog.Int("active", loaded),
		slog.Int("expired_dropped", dropped),
	)
	return nil
}
