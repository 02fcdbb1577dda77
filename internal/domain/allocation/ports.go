// Package allocation decides which storage locations supply a pick,
// reserves the stock against competing orders and settles reservations
// as picking happens.
package allocation

import (
	"context"
	"time"

	"stockpick/internal/core/id"
	"stockpick/internal/domain/location"
)

// StockRecord is the physical quantity of one SKU at one location.
type StockRecord struct {
	Location string `db:"location" json:"location"`
	SKU      string `db:"sku" json:"sku"`
	Quantity int    `db:"quantity" json:"quantity"`
}

// Inventory is the stock collaborator. Quantities never go negative.
type Inventory interface {
	// KnowsSKU reports whether sku is a product the warehouse handles.
	KnowsSKU(ctx context.Context, sku string) (bool, error)

	// LockSKU locks every stock row of sku, in location order, until the
	// surrounding transaction ends.
	LockSKU(ctx context.Context, sku string) error

	// PhysicalQuantity returns the quantity on hand; 0 when no record exists.
	PhysicalQuantity(ctx context.Context, location, sku string) (int, error)

	// PhysicalQuantityForUpdate is PhysicalQuantity holding a row lock.
	PhysicalQuantityForUpdate(ctx context.Context, location, sku string) (int, error)

	// StockBySKU lists records of sku with quantity > 0, ordered by location.
	StockBySKU(ctx context.Context, sku string) ([]StockRecord, error)

	// AdjustQuantity adds delta to the record, creating it when needed.
	// A result below zero fails with INSUFFICIENT_AVAILABILITY.
	AdjustQuantity(ctx context.Context, location, sku string, delta int) error
}

// LocationDirectory is the set of valid storage locations.
type LocationDirectory interface {
	List(ctx context.Context) ([]location.Location, error)
	Get(ctx context.Context, name string) (location.Location, error)
}

// Commitment is stock that left its location for an order after a
// confirmed pick and has not been shipped yet.
type Commitment struct {
	ID            id.ID      `db:"id" json:"id"`
	OrderID       string     `db:"order_id" json:"orderId"`
	SKU           string     `db:"sku" json:"sku"`
	Location      string     `db:"location" json:"location"`
	Quantity      int        `db:"quantity" json:"quantity"`
	ReservationID *id.ID     `db:"reservation_id" json:"reservationId,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	ReleasedAt    *time.Time `db:"released_at" json:"releasedAt,omitempty"`
	ReleasedTo    *string    `db:"released_to" json:"releasedTo,omitempty"`
}

// CommitmentStore persists outgoing commitments.
type CommitmentStore interface {
	AddCommitment(ctx context.Context, c *Commitment) error

	// OpenCommitments lists unreleased commitments of an order, locking them.
	OpenCommitments(ctx context.Context, orderID string) ([]*Commitment, error)

	MarkReleased(ctx context.Context, commitmentID id.ID, to string, at time.Time) error
}

// Observer receives allocation outcomes (metrics).
type Observer interface {
	DemandAllocated(outcome Outcome, units int)
	ReservationsTransitioned(status string, count int)
	PickConfirmed(units, shortfall int)
}

type nopObserver struct{}

func (nopObserver) DemandAllocated(Outcome, int)         {}
func (nopObserver) ReservationsTransitioned(string, int) {}
func (nopObserver) PickConfirmed(int, int)               {}
