package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/driftguard/internal/domain"
)

// Memory is an in-memory ledger for tests and paper-trading mode. Writes are
// atomic per symbol under a single lock and carry the same idempotent
// set-not-increment semantics as the Postgres store.
type Memory struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
	now       func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		positions: make(map[string]domain.Position),
		now:       time.Now,
	}
}

// Seed installs a position, replacing any existing entry for the symbol.
func (m *Memory) Seed(p domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

// OpenPositions returns a copy of the current open positions.
func (m *Memory) OpenPositions(_ context.Context) (domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(domain.Snapshot, len(m.positions))
	for _, p := range m.positions {
		snapshot.Add(p)
	}
	return snapshot, nil
}

// ClosePosition removes the position. Closing an absent position is a no-op.
func (m *Memory) ClosePosition(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

// UpdateQuantity sets the position's quantity.
func (m *Memory) UpdateQuantity(_ context.Context, symbol string, quantity decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	p.Quantity = quantity
	p.LastUpdated = m.now()
	m.positions[symbol] = p
	return nil
}

// UpdateEntryPrice sets the position's entry price.
func (m *Memory) UpdateEntryPrice(_ context.Context, symbol string, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	p.EntryPrice = price
	p.LastUpdated = m.now()
	m.positions[symbol] = p
	return nil
}
