// Package reservation_repo provides the PostgreSQL reservation repository.
package reservation_repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/reservation"
	"stockpick/internal/infrastructure/storage/postgres"
)

const tableName = "pick_reservations"

var _ reservation.Repository = (*Repo)(nil)

// Repo implements reservation.Repository.
type Repo struct {
	txm        *postgres.TxManager
	selectCols []string
}

// New creates a reservation repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{
		txm:        txm,
		selectCols: postgres.ExtractDBColumns[reservation.Reservation](),
	}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *Repo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *Repo) Insert(ctx context.Context, res *reservation.Reservation) error {
	sql, args, err := r.Builder().Insert(tableName).SetMap(postgres.StructToMap(res)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("insert reservation", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, reservationID id.ID) (*reservation.Reservation, error) {
	return r.get(ctx, reservationID, false)
}

func (r *Repo) GetForUpdate(ctx context.Context, reservationID id.ID) (*reservation.Reservation, error) {
	return r.get(ctx, reservationID, true)
}

func (r *Repo) get(ctx context.Context, reservationID id.ID, forUpdate bool) (*reservation.Reservation, error) {
	q := r.Builder().Select(r.selectCols...).
		From(tableName).
		Where(squirrel.Eq{"id": reservationID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var res reservation.Reservation
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &res, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("reservation", reservationID)
		}
		return nil, apperror.NewDatabase("get reservation", err)
	}
	return &res, nil
}

func (r *Repo) Update(ctx context.Context, res *reservation.Reservation) error {
	sql, args, err := r.Builder().Update(tableName).
		Set("status", res.Status).
		Set("picked_quantity", res.PickedQuantity).
		Set("updated_at", res.UpdatedAt).
		Where(squirrel.Eq{"id": res.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase("update reservation", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("reservation", res.ID)
	}
	return nil
}

func (r *Repo) FindActive(ctx context.Context, orderID, sku string, now time.Time) ([]*reservation.Reservation, error) {
	return r.selectLive(ctx, squirrel.Eq{"order_id": orderID, "sku": sku}, now)
}

func (r *Repo) FindActiveAt(ctx context.Context, orderID, sku, location string, now time.Time) ([]*reservation.Reservation, error) {
	return r.selectLive(ctx, squirrel.Eq{"order_id": orderID, "sku": sku, "location": location}, now)
}

func (r *Repo) selectLive(ctx context.Context, where squirrel.Eq, now time.Time) ([]*reservation.Reservation, error) {
	q := r.Builder().Select(r.selectCols...).
		From(tableName).
		Where(where).
		Where(squirrel.Eq{"status": reservation.StatusActive}).
		Where(squirrel.Gt{"expires_at": now}).
		OrderBy("created_at", "id")
	return r.selectMany(ctx, q, "find active reservations")
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]*reservation.Reservation, error) {
	q := r.Builder().Select(r.selectCols...).
		From(tableName).
		Where(squirrel.Eq{"order_id": orderID}).
		OrderBy("created_at", "id")
	return r.selectMany(ctx, q, "list order reservations")
}

func (r *Repo) selectMany(ctx context.Context, q squirrel.SelectBuilder, op string) ([]*reservation.Reservation, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []*reservation.Reservation
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, apperror.NewDatabase(op, err)
	}
	return out, nil
}

// holdQuery aggregates reservations per location. Active rows count as
// reserved while unexpired; completed rows withhold their unpicked
// remainder until the original expiry.
func (r *Repo) holdQuery(sku string, now time.Time) squirrel.SelectBuilder {
	return r.Builder().Select("location").
		Column(squirrel.Expr(
			"COALESCE(SUM(quantity) FILTER (WHERE status = ? AND expires_at > ?), 0) AS reserved",
			reservation.StatusActive, now)).
		Column(squirrel.Expr(
			"COALESCE(SUM(quantity - picked_quantity) FILTER (WHERE status = ? AND expires_at > ?), 0) AS withheld",
			reservation.StatusCompleted, now)).
		Column(squirrel.Expr("bool_or(status = ?) AS has_active", reservation.StatusActive)).
		From(tableName).
		Where(squirrel.Eq{"sku": sku}).
		Where(squirrel.Eq{"status": []reservation.Status{reservation.StatusActive, reservation.StatusCompleted}}).
		GroupBy("location")
}

func (r *Repo) Holds(ctx context.Context, sku string, now time.Time) ([]reservation.Hold, error) {
	sql, args, err := r.holdQuery(sku, now).OrderBy("location").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []reservation.Hold
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, apperror.NewDatabase("reservation holds", err)
	}
	return out, nil
}

func (r *Repo) HoldAt(ctx context.Context, location, sku string, now time.Time) (reservation.Hold, error) {
	sql, args, err := r.holdQuery(sku, now).Where(squirrel.Eq{"location": location}).ToSql()
	if err != nil {
		return reservation.Hold{}, fmt.Errorf("build query: %w", err)
	}

	var out reservation.Hold
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return reservation.Hold{Location: location}, nil
		}
		return reservation.Hold{}, apperror.NewDatabase("reservation hold", err)
	}
	return out, nil
}

// TransitionActive moves active reservations to `to` with one conditional
// UPDATE, so rows already moved by a concurrent writer are skipped.
func (r *Repo) TransitionActive(ctx context.Context, to reservation.Status, dueBy *time.Time, now time.Time) ([]*reservation.Reservation, error) {
	q := r.Builder().Update(tableName).
		Set("status", to).
		Set("updated_at", now).
		Where(squirrel.Eq{"status": reservation.StatusActive}).
		Suffix("RETURNING " + strings.Join(r.selectCols, ", "))
	if dueBy != nil {
		q = q.Where(squirrel.LtOrEq{"expires_at": *dueBy})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	var out []*reservation.Reservation
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, apperror.NewDatabase("transition active reservations", err)
	}
	return out, nil
}
