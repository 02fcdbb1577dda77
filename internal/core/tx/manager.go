// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces; the Postgres and in-memory
// stores provide the implementations.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
//
// The allocation engine relies on it for the check-then-reserve critical
// section: everything fn does through repositories bound to ctx is committed
// atomically, or not at all.
type Manager interface {
	// RunInTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
