// Package reservation provides the soft lock on (location, SKU, quantity)
// held by an order while it is being picked.
package reservation

import (
	"fmt"
	"time"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
)

// DefaultTTL is how long an active reservation holds its units.
const DefaultTTL = 4 * time.Hour

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s.Valid() && s != StatusActive
}

// CheckTransition is the single place where status changes are validated.
// Transitions are one way: active -> completed | expired | cancelled.
func CheckTransition(reservationID id.ID, from, to Status) error {
	if from == StatusActive && to.IsTerminal() {
		return nil
	}
	return apperror.NewInvalidState("reservation", reservationID, string(from), string(to))
}

// Reservation is a time-bounded claim on units of a SKU at one location,
// owned by one order.
type Reservation struct {
	ID             id.ID     `db:"id" json:"id"`
	OrderID        string    `db:"order_id" json:"orderId"`
	SKU            string    `db:"sku" json:"sku"`
	Location       string    `db:"location" json:"location"`
	Quantity       int       `db:"quantity" json:"quantity"`
	PickedQuantity int       `db:"picked_quantity" json:"pickedQuantity"`
	Status         Status    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt      time.Time `db:"expires_at" json:"expiresAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// New creates an active reservation expiring ttl after now.
func New(orderID, sku, location string, quantity int, now time.Time, ttl time.Duration) *Reservation {
	return &Reservation{
		ID:        id.New(),
		OrderID:   orderID,
		SKU:       sku,
		Location:  location,
		Quantity:  quantity,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
}

// IsLive reports whether the reservation still deducts from availability.
func (r *Reservation) IsLive(now time.Time) bool {
	return r.Status == StatusActive && now.Before(r.ExpiresAt)
}

// Shortfall is the reserved quantity that was not picked on completion.
func (r *Reservation) Shortfall() int {
	if r.Status != StatusCompleted {
		return 0
	}
	return r.Quantity - r.PickedQuantity
}

// Complete marks the reservation as picked. An under-pick is accepted; the
// unpicked remainder is not re-reserved.
func (r *Reservation) Complete(picked int, now time.Time) error {
	if picked <= 0 || picked > r.Quantity {
		return apperror.NewInvalidInput(fmt.Sprintf("picked quantity must be between 1 and %d", r.Quantity)).
			WithDetail("reservation_id", r.ID).
			WithDetail("picked", picked)
	}
	if err := CheckTransition(r.ID, r.Status, StatusCompleted); err != nil {
		return err
	}
	if !now.Before(r.ExpiresAt) {
		// The units may already have been handed to another order.
		return apperror.NewInvalidState("reservation", r.ID, "expired", string(StatusCompleted)).
			WithDetail("expires_at", r.ExpiresAt)
	}
	r.PickedQuantity = picked
	return r.moveTo(StatusCompleted, now)
}

// Cancel releases an active reservation.
func (r *Reservation) Cancel(now time.Time) error {
	return r.moveTo(StatusCancelled, now)
}

// Expire marks an active reservation whose window has passed.
func (r *Reservation) Expire(now time.Time) error {
	if now.Before(r.ExpiresAt) {
		return apperror.NewInvalidState("reservation", r.ID, string(r.Status), string(StatusExpired)).
			WithDetail("expires_at", r.ExpiresAt)
	}
	return r.moveTo(StatusExpired, now)
}

func (r *Reservation) moveTo(to Status, now time.Time) error {
	if err := CheckTransition(r.ID, r.Status, to); err != nil {
		return err
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}
