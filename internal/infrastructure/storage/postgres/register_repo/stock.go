// Package register_repo provides PostgreSQL implementations of the stock
// register and the outgoing commitment ledger.
package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockpick/internal/core/apperror"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/infrastructure/storage/postgres"
)

const (
	stockTable    = "stock_records"
	productsTable = "products"
)

var _ allocation.Inventory = (*StockRepo)(nil)

// StockRepo implements allocation.Inventory.
type StockRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewStockRepo creates a new stock register repository.
func NewStockRepo(txm *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// KnowsSKU reports whether sku is a registered product.
func (r *StockRepo) KnowsSKU(ctx context.Context, sku string) (bool, error) {
	var exists bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE sku = $1)`, sku,
	).Scan(&exists)
	if err != nil {
		return false, apperror.NewDatabase("knows sku", err)
	}
	return exists, nil
}

// LockSKU locks every stock row of sku in location order. Taking the locks
// in a fixed order keeps concurrent allocations for the same SKU free of
// deadlocks.
func (r *StockRepo) LockSKU(ctx context.Context, sku string) error {
	sql := `
		SELECT location
		FROM stock_records
		WHERE sku = $1
		ORDER BY location
		FOR UPDATE
	`
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, sku); err != nil {
		return apperror.NewDatabase("lock sku", err)
	}
	return nil
}

// PhysicalQuantity returns the quantity on hand, 0 when no record exists.
func (r *StockRepo) PhysicalQuantity(ctx context.Context, location, sku string) (int, error) {
	q := r.builder.Select("quantity").
		From(stockTable).
		Where(squirrel.Eq{"location": location, "sku": sku})

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	return r.getQuantity(ctx, sql, args...)
}

// PhysicalQuantityForUpdate returns the quantity with a pessimistic lock.
func (r *StockRepo) PhysicalQuantityForUpdate(ctx context.Context, location, sku string) (int, error) {
	sql := `
		SELECT quantity
		FROM stock_records
		WHERE location = $1 AND sku = $2
		FOR UPDATE
	`
	return r.getQuantity(ctx, sql, location, sku)
}

func (r *StockRepo) getQuantity(ctx context.Context, sql string, args ...any) (int, error) {
	var quantity int
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &quantity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return 0, nil
		}
		return 0, apperror.NewDatabase("get quantity", err)
	}
	return quantity, nil
}

// StockBySKU lists records of sku holding stock, ordered by location.
func (r *StockRepo) StockBySKU(ctx context.Context, sku string) ([]allocation.StockRecord, error) {
	q := r.builder.Select("location", "sku", "quantity").
		From(stockTable).
		Where(squirrel.Eq{"sku": sku}).
		Where(squirrel.Gt{"quantity": 0}).
		OrderBy("location")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var records []allocation.StockRecord
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, apperror.NewDatabase("stock by sku", err)
	}
	return records, nil
}

// AdjustQuantity adds delta to the (location, sku) record. Increments create
// the location and the record on demand; decrements never go below zero.
func (r *StockRepo) AdjustQuantity(ctx context.Context, location, sku string, delta int) error {
	if delta == 0 {
		return nil
	}
	if delta < 0 {
		return r.decrement(ctx, location, sku, -delta)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, `
		INSERT INTO locations (name, enabled) VALUES ($1, TRUE)
		ON CONFLICT (name) DO NOTHING
	`, location); err != nil {
		return apperror.NewDatabase("ensure location", err)
	}

	_, err := querier.Exec(ctx, `
		INSERT INTO stock_records (location, sku, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location, sku) DO UPDATE SET
			quantity = stock_records.quantity + EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
	`, location, sku, delta, r.now())
	if err != nil {
		return apperror.NewDatabase("increment stock", err)
	}
	return nil
}

func (r *StockRepo) decrement(ctx context.Context, location, sku string, amount int) error {
	q := r.builder.Update(stockTable).
		Set("quantity", squirrel.Expr("quantity - ?", amount)).
		Set("updated_at", r.now()).
		Where(squirrel.Eq{"location": location, "sku": sku}).
		Where(squirrel.GtOrEq{"quantity": amount})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase("decrement stock", err)
	}
	if tag.RowsAffected() == 0 {
		onHand, err := r.PhysicalQuantity(ctx, location, sku)
		if err != nil {
			return err
		}
		return apperror.NewInsufficientAvailability(location, sku, amount, onHand)
	}
	return nil
}

// HasStock reports whether any stock record exists for one of skus,
// whatever its quantity.
func (r *StockRepo) HasStock(ctx context.Context, skus ...string) (bool, error) {
	if len(skus) == 0 {
		return false, nil
	}
	var exists bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM stock_records WHERE sku = ANY($1))`, skus).Scan(&exists)
	if err != nil {
		return false, apperror.NewDatabase("check stock", err)
	}
	return exists, nil
}

// RegisterProduct adds sku to the product catalog. Registering twice is a no-op.
func (r *StockRepo) RegisterProduct(ctx context.Context, sku, name string) error {
	q := r.builder.Insert(productsTable).
		Columns("sku", "name").
		Values(sku, name).
		Suffix("ON CONFLICT (sku) DO NOTHING")

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("register product", err)
	}
	return nil
}

// LoadStock bulk-loads records with COPY. Must run inside a transaction on
// an empty (location, sku) key space; used by seeding.
func (r *StockRepo) LoadStock(ctx context.Context, records []allocation.StockRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	now := r.now()
	for _, rec := range records {
		rows = append(rows, []any{rec.Location, rec.SKU, rec.Quantity, now})
	}
	n, err := postgres.NewBulkWriter(r.txm).Copy(ctx, stockTable,
		[]string{"location", "sku", "quantity", "updated_at"}, rows)
	if err != nil {
		return 0, fmt.Errorf("copy stock: %w", err)
	}
	return n, nil
}
