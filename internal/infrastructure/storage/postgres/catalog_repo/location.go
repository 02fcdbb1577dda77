// Package catalog_repo provides PostgreSQL implementations for reference
// data: the storage location directory.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockpick/internal/core/apperror"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/location"
	"stockpick/internal/infrastructure/storage/postgres"
)

const locationsTable = "locations"

var _ allocation.LocationDirectory = (*LocationRepo)(nil)

// LocationRepo implements allocation.LocationDirectory.
type LocationRepo struct {
	txm        *postgres.TxManager
	selectCols []string
}

// NewLocationRepo creates a new location repository.
func NewLocationRepo(txm *postgres.TxManager) *LocationRepo {
	return &LocationRepo{
		txm:        txm,
		selectCols: postgres.ExtractDBColumns[location.Location](),
	}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *LocationRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// List returns every location ordered by name.
func (r *LocationRepo) List(ctx context.Context) ([]location.Location, error) {
	sql, args, err := r.Builder().Select(r.selectCols...).From(locationsTable).OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []location.Location
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, apperror.NewDatabase("list locations", err)
	}
	return out, nil
}

// Get returns one location or NOT_FOUND.
func (r *LocationRepo) Get(ctx context.Context, name string) (location.Location, error) {
	sql, args, err := r.Builder().Select(r.selectCols...).
		From(locationsTable).
		Where(squirrel.Eq{"name": name}).
		ToSql()
	if err != nil {
		return location.Location{}, fmt.Errorf("build query: %w", err)
	}

	var out location.Location
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return location.Location{}, apperror.NewNotFound("location", name)
		}
		return location.Location{}, apperror.NewDatabase("get location", err)
	}
	return out, nil
}

// Upsert creates the location or updates its enabled flag.
func (r *LocationRepo) Upsert(ctx context.Context, loc location.Location) error {
	sql, args, err := r.Builder().Insert(locationsTable).
		SetMap(postgres.StructToMap(loc)).
		Suffix("ON CONFLICT (name) DO UPDATE SET enabled = EXCLUDED.enabled").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("upsert location", err)
	}
	return nil
}

// UpsertMany upserts locs in one round-trip. Must run inside a transaction.
func (r *LocationRepo) UpsertMany(ctx context.Context, locs []location.Location) error {
	stmts := make([]squirrel.Sqlizer, 0, len(locs))
	for _, loc := range locs {
		stmts = append(stmts, r.Builder().Insert(locationsTable).
			SetMap(postgres.StructToMap(loc)).
			Suffix("ON CONFLICT (name) DO UPDATE SET enabled = EXCLUDED.enabled"))
	}
	if _, err := postgres.NewBulkWriter(r.txm).ExecAll(ctx, stmts); err != nil {
		return apperror.NewDatabase("upsert locations", err)
	}
	return nil
}
