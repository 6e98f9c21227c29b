// Package ledger holds the set of currently open positions. A position entry
// is only ever mutated by its symbol's monitor goroutine; the map itself is
// guarded so goroutines for different symbols can share one ledger.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tradeforge/okxbot/internal/domain"
)

// Ledger is an in-memory mapping from symbol to open position, with at most
// one open position per symbol.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{positions: make(map[string]*domain.Position)}
}

// Open registers a new position. It returns domain.ErrAlreadyExists when a
// position is already open for the symbol.
func (l *Ledger) Open(pos *domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[pos.Symbol]; ok {
		return fmt.Errorf("ledger: open %s: %w", pos.Symbol, domain.ErrAlreadyExists)
	}
	l.positions[pos.Symbol] = pos
	return nil
}

// Get returns the open position for symbol, if any.
func (l *Ledger) Get(symbol string) (*domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Remove deletes the entry for symbol. Removing an absent symbol is a no-op.
func (l *Ledger) Remove(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, symbol)
}

// Symbols returns the symbols with an open position, sorted.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
