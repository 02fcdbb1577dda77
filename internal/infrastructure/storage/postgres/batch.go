package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// BulkWriter loads many rows in a single round-trip. It backs the seeding
// and layout import paths, which write whole location sets and stock
// snapshots at once. Both paths require a transaction so a bad row rolls
// the whole load back.
type BulkWriter struct {
	txManager *TxManager
}

// NewBulkWriter creates a bulk writer on txManager.
func NewBulkWriter(txManager *TxManager) *BulkWriter {
	return &BulkWriter{txManager: txManager}
}

// Copy streams rows into table with the COPY protocol. Each row holds its
// values in columns order. COPY has no conflict handling: the target key
// space must be empty.
func (w *BulkWriter) Copy(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx := w.txManager.GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("copy into %s requires transaction context", table)
	}
	return tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// ExecAll queues every statement into one pgx.Batch and returns the total
// number of affected rows. The error names the first failing statement by
// position.
func (w *BulkWriter) ExecAll(ctx context.Context, stmts []sq.Sqlizer) (int64, error) {
	if len(stmts) == 0 {
		return 0, nil
	}
	tx := w.txManager.GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("batch exec requires transaction context")
	}

	batch := &pgx.Batch{}
	for i, stmt := range stmts {
		sql, args, err := stmt.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build statement %d: %w", i, err)
		}
		batch.Queue(sql, args...)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	var affected int64
	for i := range stmts {
		tag, err := results.Exec()
		if err != nil {
			return affected, fmt.Errorf("statement %d: %w", i, err)
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}
