package context

import (
	"context"
	"slices"
)

// Operator identifies who is acting on the engine: a picker terminal,
// the fulfillment workflow, or a warehouse supervisor.
type Operator struct {
	ID    string
	Roles []string
}

// RoleSupervisor may run emergency and maintenance operations.
const RoleSupervisor = "supervisor"

type operatorKey struct{}

// WithOperator adds Operator to context.
func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// GetOperator returns Operator from context.
func GetOperator(ctx context.Context) *Operator {
	if v, ok := ctx.Value(operatorKey{}).(*Operator); ok {
		return v
	}
	return nil
}

// GetOperatorID returns operator ID from context or empty string.
func GetOperatorID(ctx context.Context) string {
	if op := GetOperator(ctx); op != nil {
		return op.ID
	}
	return ""
}

// HasRole reports whether the operator in ctx holds role.
func HasRole(ctx context.Context, role string) bool {
	op := GetOperator(ctx)
	return op != nil && slices.Contains(op.Roles, role)
}
