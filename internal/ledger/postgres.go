// Package ledger provides access to the internally tracked position ledger:
// a read view for snapshots and the narrow, idempotent correction-write
// interface the reconciler is allowed to use.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/driftguard/internal/domain"
)

// ErrPositionNotFound signals a correction aimed at a symbol the ledger no
// longer tracks as open.
var ErrPositionNotFound = errors.New("position not found")

// positionRow maps a row of the positions table.
type positionRow struct {
	Symbol          string              `db:"symbol"`
	Side            string              `db:"side"`
	Quantity        decimal.Decimal     `db:"quantity"`
	EntryPrice      decimal.Decimal     `db:"entry_price"`
	CurrentPrice    decimal.Decimal     `db:"current_price"`
	UnrealizedPnL   decimal.Decimal     `db:"unrealized_pnl"`
	Leverage        decimal.Decimal     `db:"leverage"`
	StopLossPrice   decimal.NullDecimal `db:"stop_loss_price"`
	TakeProfitPrice decimal.NullDecimal `db:"take_profit_price"`
	UpdatedAt       time.Time           `db:"updated_at"`
}

// Store is the PostgreSQL-backed ledger. Only open positions (quantity > 0)
// are visible; closing a position zeroes its quantity, so a re-applied close
// is a no-op.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

// Open connects to PostgreSQL and verifies connectivity.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(time.Minute)
	return NewStore(db, timeout), nil
}

// OpenPositions returns all open positions keyed by symbol.
func (s *Store) OpenPositions(ctx context.Context) (domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []positionRow
	query := `
		SELECT symbol, side, quantity, entry_price, current_price,
		       unrealized_pnl, leverage, stop_loss_price, take_profit_price, updated_at
		FROM positions
		WHERE quantity > 0`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}

	snapshot := make(domain.Snapshot, len(rows))
	for _, row := range rows {
		pos := domain.Position{
			Symbol:        row.Symbol,
			Side:          domain.Side(row.Side),
			Quantity:      row.Quantity,
			EntryPrice:    row.EntryPrice,
			CurrentPrice:  row.CurrentPrice,
			UnrealizedPnL: row.UnrealizedPnL,
			Leverage:      row.Leverage,
			LastUpdated:   row.UpdatedAt,
		}
		if row.StopLossPrice.Valid {
			sl := row.StopLossPrice.Decimal
			pos.StopLossPrice = &sl
		}
		if row.TakeProfitPrice.Valid {
			tp := row.TakeProfitPrice.Decimal
			pos.TakeProfitPrice = &tp
		}
		if err := pos.Validate(); err != nil {
			return nil, fmt.Errorf("ledger returned invalid position: %w", err)
		}
		snapshot.Add(pos)
	}
	return snapshot, nil
}

// ClosePosition marks a position closed by zeroing its quantity. Closing an
// already-closed or unknown position succeeds: the desired state holds.
func (s *Store) ClosePosition(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET quantity = 0, closed_at = NOW(), updated_at = NOW()
		WHERE symbol = $1 AND quantity > 0`, symbol)
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", symbol, err)
	}
	return nil
}

// UpdateQuantity sets the open position's quantity to the given value.
func (s *Store) UpdateQuantity(ctx context.Context, symbol string, quantity decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET quantity = $2, updated_at = NOW()
		WHERE symbol = $1 AND quantity > 0`, symbol, quantity)
	if err != nil {
		return fmt.Errorf("failed to update quantity for %s: %w", symbol, err)
	}
	return checkAffected(res, symbol)
}

// UpdateEntryPrice sets the open position's entry price to the given value.
func (s *Store) UpdateEntryPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET entry_price = $2, updated_at = NOW()
		WHERE symbol = $1 AND quantity > 0`, symbol, price)
	if err != nil {
		return fmt.Errorf("failed to update entry price for %s: %w", symbol, err)
	}
	return checkAffected(res, symbol)
}

func checkAffected(res sql.Result, symbol string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	return nil
}
