package reservation

import (
	"context"
	"time"

	"stockpick/internal/core/id"
)

// Hold is the aggregate claim that reservations place on one
// (location, SKU) pair at a point in time.
type Hold struct {
	Location string `db:"location" json:"location"`

	// Reserved is the sum of active reservations that have not expired.
	Reserved int `db:"reserved" json:"reserved"`

	// Withheld is the unpicked remainder of completed reservations whose
	// window has not yet closed.
	Withheld int `db:"withheld" json:"withheld"`

	// HasActive is true when any reservation is still in status active,
	// expired or not.
	HasActive bool `db:"has_active" json:"hasActive"`
}

// Claimed is the quantity the hold removes from availability.
func (h Hold) Claimed() int {
	return h.Reserved + h.Withheld
}

// Repository defines persistence for reservations.
type Repository interface {
	// Insert persists a new reservation.
	Insert(ctx context.Context, r *Reservation) error

	// Get returns a reservation or a NOT_FOUND AppError.
	Get(ctx context.Context, reservationID id.ID) (*Reservation, error)

	// GetForUpdate is Get with a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, reservationID id.ID) (*Reservation, error)

	// Update stores status, picked quantity and updated_at.
	Update(ctx context.Context, r *Reservation) error

	// FindActive returns live reservations of an order for a SKU, oldest first.
	FindActive(ctx context.Context, orderID, sku string, now time.Time) ([]*Reservation, error)

	// FindActiveAt narrows FindActive to one location.
	FindActiveAt(ctx context.Context, orderID, sku, location string, now time.Time) ([]*Reservation, error)

	// ListByOrder returns every reservation of an order in any status.
	ListByOrder(ctx context.Context, orderID string) ([]*Reservation, error)

	// Holds returns per-location holds for a SKU. Locations without any
	// reservation are omitted.
	Holds(ctx context.Context, sku string, now time.Time) ([]Hold, error)

	// HoldAt returns the hold on a single (location, SKU).
	HoldAt(ctx context.Context, location, sku string, now time.Time) (Hold, error)

	// TransitionActive moves every active reservation to status `to` and
	// returns the updated rows. When dueBy is set, only reservations with
	// expires_at <= dueBy are moved.
	TransitionActive(ctx context.Context, to Status, dueBy *time.Time, now time.Time) ([]*Reservation, error)
}
