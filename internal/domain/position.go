// Package domain holds the position and discrepancy model shared by the
// reconciliation engine and its collaborators.
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Position is one instrument's state as reported by a single source.
// All monetary fields use exact decimal arithmetic; float comparison noise
// would show up as phantom discrepancies.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Leverage      decimal.Decimal `json:"leverage"`

	// Exchange-sourced entries only.
	LiquidationPrice *decimal.Decimal `json:"liquidation_price,omitempty"`
	Margin           decimal.Decimal  `json:"margin,omitempty"`

	// Internal-ledger entries only.
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	LastUpdated     time.Time        `json:"last_updated,omitempty"`
}

// Validate checks the basic shape invariants of a snapshot entry.
func (p Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position has empty symbol")
	}
	if !p.Side.Valid() {
		return fmt.Errorf("position %s has invalid side %q", p.Symbol, p.Side)
	}
	if p.Quantity.IsNegative() {
		return fmt.Errorf("position %s has negative quantity %s", p.Symbol, p.Quantity)
	}
	if p.Quantity.IsPositive() && !p.EntryPrice.IsPositive() {
		return fmt.Errorf("position %s has non-positive entry price %s", p.Symbol, p.EntryPrice)
	}
	return nil
}

// Snapshot is a point-in-time read of all open positions from one source,
// keyed by symbol. Closed positions are represented by absence; a snapshot
// never contains a zero-quantity entry.
type Snapshot map[string]Position

// Add inserts a position, dropping zero-quantity entries.
func (s Snapshot) Add(p Position) {
	if p.Quantity.IsZero() {
		return
	}
	s[p.Symbol] = p
}

// UnionSymbols returns the sorted union of both snapshots' symbols. Sorted
// order keeps discrepancy output deterministic across runs.
func UnionSymbols(a, b Snapshot) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for sym := range a {
		seen[sym] = struct{}{}
	}
	for sym := range b {
		seen[sym] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
