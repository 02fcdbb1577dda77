package reservation

import (
	"context"
	"encoding/json"
	"time"

	"stockpick/internal/core/id"
)

// EventType names a reservation lifecycle event.
type EventType string

const (
	EventCreated   EventType = "reservation.created"
	EventCompleted EventType = "reservation.completed"
	EventExpired   EventType = "reservation.expired"
	EventCancelled EventType = "reservation.cancelled"
)

// Event is emitted for every reservation transition, in the same
// transaction as the transition itself.
type Event struct {
	Type           EventType `json:"type"`
	ReservationID  id.ID     `json:"reservationId"`
	OrderID        string    `json:"orderId"`
	SKU            string    `json:"sku"`
	Location       string    `json:"location"`
	Quantity       int       `json:"quantity"`
	PickedQuantity int       `json:"pickedQuantity,omitempty"`
	Status         Status    `json:"status"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewEvent snapshots r into an event.
func NewEvent(t EventType, r *Reservation) Event {
	return Event{
		Type:           t,
		ReservationID:  r.ID,
		OrderID:        r.OrderID,
		SKU:            r.SKU,
		Location:       r.Location,
		Quantity:       r.Quantity,
		PickedQuantity: r.PickedQuantity,
		Status:         r.Status,
		OccurredAt:     r.UpdatedAt,
	}
}

// EventSink persists events (outbox, audit trail).
type EventSink interface {
	Record(ctx context.Context, events ...Event) error
}

// HistoryEntry is one audited transition of a single reservation.
type HistoryEntry struct {
	Action     string          `json:"action"`
	OperatorID string          `json:"operatorId,omitempty"`
	Changes    json.RawMessage `json:"changes"`
	At         time.Time       `json:"at"`
}

// HistoryReader reads the audit trail of a reservation, newest first.
type HistoryReader interface {
	History(ctx context.Context, reservationID id.ID, limit int) ([]HistoryEntry, error)
}

// eventTypeFor maps a terminal status to its event.
func eventTypeFor(s Status) EventType {
	switch s {
	case StatusCompleted:
		return EventCompleted
	case StatusExpired:
		return EventExpired
	case StatusCancelled:
		return EventCancelled
	}
	return EventCreated
}
