package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/infrastructure/storage/postgres"
)

const commitmentsTable = "outgoing_commitments"

var _ allocation.CommitmentStore = (*CommitmentRepo)(nil)

// CommitmentRepo implements allocation.CommitmentStore.
type CommitmentRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
	columns []string
}

// NewCommitmentRepo creates a new outgoing commitment repository.
func NewCommitmentRepo(txm *postgres.TxManager) *CommitmentRepo {
	return &CommitmentRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		columns: postgres.ExtractDBColumns[allocation.Commitment](),
	}
}

func (r *CommitmentRepo) AddCommitment(ctx context.Context, c *allocation.Commitment) error {
	q := r.builder.Insert(commitmentsTable).SetMap(postgres.StructToMap(c))

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("add commitment", err)
	}
	return nil
}

// OpenCommitments returns unreleased commitments of orderID, locked until
// the surrounding transaction ends.
func (r *CommitmentRepo) OpenCommitments(ctx context.Context, orderID string) ([]*allocation.Commitment, error) {
	q := r.builder.Select(r.columns...).
		From(commitmentsTable).
		Where(squirrel.Eq{"order_id": orderID, "released_at": nil}).
		OrderBy("created_at", "id").
		Suffix("FOR UPDATE")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []*allocation.Commitment
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, apperror.NewDatabase("open commitments", err)
	}
	return out, nil
}

func (r *CommitmentRepo) MarkReleased(ctx context.Context, commitmentID id.ID, to string, at time.Time) error {
	q := r.builder.Update(commitmentsTable).
		Set("released_at", at).
		Set("released_to", to).
		Where(squirrel.Eq{"id": commitmentID, "released_at": nil})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase("mark commitment released", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("open commitment", commitmentID)
	}
	return nil
}
