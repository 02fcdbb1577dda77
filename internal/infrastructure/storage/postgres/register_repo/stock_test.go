package register_repo

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpick/internal/core/apperror"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/infrastructure/storage/postgres"
)

func newMockStockRepo(t *testing.T) (*StockRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStockRepo(postgres.NewTxManagerFromDB(mock)), mock
}

func TestStockRepo_KnowsSKU(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM products WHERE sku = $1)`)).
		WithArgs("SKU-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	known, err := repo.KnowsSKU(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.True(t, known)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepo_LockSKU(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	mock.ExpectExec(`(?s)FROM stock_records.*ORDER BY location.*FOR UPDATE`).
		WithArgs("SKU-1").
		WillReturnResult(pgxmock.NewResult("SELECT", 3))

	require.NoError(t, repo.LockSKU(context.Background(), "SKU-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepo_PhysicalQuantityMissingIsZero(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT quantity FROM stock_records WHERE location = $1 AND sku = $2`)).
		WithArgs("1A1P1", "SKU-1").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}))

	qty, err := repo.PhysicalQuantity(context.Background(), "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Zero(t, qty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepo_StockBySKU(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT location, sku, quantity FROM stock_records WHERE sku = $1 AND quantity > $2 ORDER BY location`)).
		WithArgs("SKU-1", 0).
		WillReturnRows(pgxmock.NewRows([]string{"location", "sku", "quantity"}).
			AddRow("1A1P1", "SKU-1", 10).
			AddRow("1A1P2", "SKU-1", 8))

	records, err := repo.StockBySKU(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, []allocation.StockRecord{
		{Location: "1A1P1", SKU: "SKU-1", Quantity: 10},
		{Location: "1A1P2", SKU: "SKU-1", Quantity: 8},
	}, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepo_DecrementBelowZero(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE stock_records SET quantity = quantity - $1`)).
		WithArgs(5, pgxmock.AnyArg(), "1A1P1", "SKU-1", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT quantity FROM stock_records`)).
		WithArgs("1A1P1", "SKU-1").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(3))

	err := repo.AdjustQuantity(context.Background(), "1A1P1", "SKU-1", -5)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientAvailability, appErr.Code)
	assert.Equal(t, 3, appErr.Details["available"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepo_Increment(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO locations (name, enabled)`)).
		WithArgs("FLOOR").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO stock_records (location, sku, quantity, updated_at)`)).
		WithArgs("FLOOR", "SKU-1", 7, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.AdjustQuantity(context.Background(), "FLOOR", "SKU-1", 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepo_HasStockCountsEmptyRows(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM stock_records WHERE sku = ANY($1))`)).
		WithArgs([]string{"SKU-1001", "SKU-1002"}).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := repo.HasStock(context.Background(), "SKU-1001", "SKU-1002")
	require.NoError(t, err)
	assert.True(t, has)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepo_HasStockWithoutSKUs(t *testing.T) {
	repo, mock := newMockStockRepo(t)

	has, err := repo.HasStock(context.Background())
	require.NoError(t, err)
	assert.False(t, has)
	require.NoError(t, mock.ExpectationsWereMet())
}
