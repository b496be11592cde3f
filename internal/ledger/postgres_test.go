package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/driftguard/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock"), time.Second), mock
}

func TestStore_OpenPositions(t *testing.T) {
	store, mock := newMockStore(t)

	updated := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"symbol", "side", "quantity", "entry_price", "current_price",
		"unrealized_pnl", "leverage", "stop_loss_price", "take_profit_price", "updated_at",
	}).
		AddRow("BTC/USDT", "LONG", "0.1", "45000", "45100", "10", "10", "43000", nil, updated).
		AddRow("ETH/USDT", "SHORT", "2", "3000", "2950", "100", "5", nil, "2800", updated)

	mock.ExpectQuery(`(?s)SELECT symbol, side, quantity.*FROM positions.*WHERE quantity > 0`).
		WillReturnRows(rows)

	snapshot, err := store.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	btc := snapshot["BTC/USDT"]
	assert.Equal(t, domain.SideLong, btc.Side)
	assert.True(t, decimal.NewFromFloat(0.1).Equal(btc.Quantity))
	require.NotNil(t, btc.StopLossPrice)
	assert.True(t, decimal.NewFromInt(43000).Equal(*btc.StopLossPrice))
	assert.Nil(t, btc.TakeProfitPrice)
	assert.Equal(t, updated, btc.LastUpdated)

	eth := snapshot["ETH/USDT"]
	assert.Equal(t, domain.SideShort, eth.Side)
	require.NotNil(t, eth.TakeProfitPrice)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClosePosition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`(?s)UPDATE positions.*SET quantity = 0`).
		WithArgs("BTC/USDT").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.ClosePosition(context.Background(), "BTC/USDT"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClosePositionAlreadyClosed(t *testing.T) {
	store, mock := newMockStore(t)

	// Zero rows affected: the position is already closed, and the desired
	// state holds, so the close succeeds.
	mock.ExpectExec(`(?s)UPDATE positions.*SET quantity = 0`).
		WithArgs("BTC/USDT").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.ClosePosition(context.Background(), "BTC/USDT"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateQuantity(t *testing.T) {
	store, mock := newMockStore(t)
	qty := decimal.NewFromFloat(0.1)

	mock.ExpectExec(`(?s)UPDATE positions.*SET quantity = \$2`).
		WithArgs("BTC/USDT", qty).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateQuantity(context.Background(), "BTC/USDT", qty))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateQuantityUnknownSymbol(t *testing.T) {
	store, mock := newMockStore(t)
	qty := decimal.NewFromFloat(0.1)

	mock.ExpectExec(`(?s)UPDATE positions.*SET quantity = \$2`).
		WithArgs("BTC/USDT", qty).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateQuantity(context.Background(), "BTC/USDT", qty)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestStore_UpdateEntryPrice(t *testing.T) {
	store, mock := newMockStore(t)
	price := decimal.NewFromInt(45100)

	mock.ExpectExec(`(?s)UPDATE positions.*SET entry_price = \$2`).
		WithArgs("BTC/USDT", price).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateEntryPrice(context.Background(), "BTC/USDT", price))
	assert.NoError(t, mock.ExpectationsWereMet())
}
