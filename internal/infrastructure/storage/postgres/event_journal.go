package postgres

import (
	"context"
	"fmt"

	"stockpick/internal/core/id"
	"stockpick/internal/domain/reservation"
)

const reservationAggregate = "reservation"

var (
	_ reservation.EventSink     = (*EventJournal)(nil)
	_ reservation.HistoryReader = (*EventJournal)(nil)
)

// EventJournal records reservation events in the outbox and the audit log,
// inside the transaction that produced them.
type EventJournal struct {
	outbox *OutboxPublisher
	audit  *AuditService
}

// NewEventJournal creates an event journal. audit may be nil.
func NewEventJournal(outbox *OutboxPublisher, audit *AuditService) *EventJournal {
	return &EventJournal{outbox: outbox, audit: audit}
}

// Record implements reservation.EventSink.
func (j *EventJournal) Record(ctx context.Context, events ...reservation.Event) error {
	if len(events) == 0 {
		return nil
	}

	domainEvents := make([]DomainEvent, len(events))
	for i, e := range events {
		domainEvents[i] = DomainEvent{
			AggregateType: reservationAggregate,
			AggregateID:   e.ReservationID,
			EventType:     string(e.Type),
			PartitionKey:  e.OrderID,
			Payload:       e,
		}
	}
	if err := j.outbox.PublishBatch(ctx, domainEvents); err != nil {
		return fmt.Errorf("publish reservation events: %w", err)
	}

	if j.audit == nil {
		return nil
	}
	if len(events) == 1 {
		e := events[0]
		return j.audit.LogChange(ctx, reservationAggregate, &e.ReservationID, auditActionFor(e.Type, false), e)
	}
	// bulk transitions are audited as one entry
	return j.audit.LogChange(ctx, reservationAggregate, nil, auditActionFor(events[0].Type, true), events)
}

// History implements reservation.HistoryReader from the audit log. Bulk
// transitions are not attributed to single reservations and are omitted.
func (j *EventJournal) History(ctx context.Context, reservationID id.ID, limit int) ([]reservation.HistoryEntry, error) {
	if j.audit == nil {
		return []reservation.HistoryEntry{}, nil
	}
	entries, err := j.audit.GetEntityHistory(ctx, reservationAggregate, reservationID, limit)
	if err != nil {
		return nil, fmt.Errorf("reservation history: %w", err)
	}

	out := make([]reservation.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = reservation.HistoryEntry{
			Action:     string(e.Action),
			OperatorID: e.OperatorID,
			Changes:    e.Changes,
			At:         e.CreatedAt,
		}
	}
	return out, nil
}

func auditActionFor(t reservation.EventType, bulk bool) AuditAction {
	switch t {
	case reservation.EventCompleted:
		return AuditActionComplete
	case reservation.EventExpired:
		if bulk {
			return AuditActionBulkExpire
		}
		return AuditActionExpire
	case reservation.EventCancelled:
		if bulk {
			return AuditActionBulkCancel
		}
		return AuditActionCancel
	}
	return AuditActionReserve
}
