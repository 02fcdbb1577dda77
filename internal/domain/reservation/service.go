package reservation

import (
	"context"
	"fmt"
	"time"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/core/tx"
	"stockpick/pkg/logger"
)

// AvailabilityChecker reports what a location can still offer for a SKU.
// AvailableForUpdate must be called inside a transaction and lock the
// (location, SKU) stock row until that transaction ends.
type AvailabilityChecker interface {
	AvailableForUpdate(ctx context.Context, location, sku string) (int, error)
}

// Config tunes the reservation store.
type Config struct {
	TTL time.Duration
	Now func() time.Time
}

// DefaultConfig returns a 4 hour TTL on the wall clock.
func DefaultConfig() Config {
	return Config{
		TTL: DefaultTTL,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// Service implements the reservation store contract on top of Repository.
// Every operation runs in its own transaction unless ctx already carries one.
type Service struct {
	repo         Repository
	txm          tx.Manager
	availability AvailabilityChecker
	events       EventSink
	ttl          time.Duration
	now          func() time.Time
}

// NewService creates a reservation store service.
func NewService(repo Repository, txm tx.Manager, availability AvailabilityChecker, events EventSink, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = DefaultConfig().Now
	}
	return &Service{
		repo:         repo,
		txm:          txm,
		availability: availability,
		events:       events,
		ttl:          cfg.TTL,
		now:          cfg.Now,
	}
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Create reserves quantity units of sku at location for orderID.
// It fails with INSUFFICIENT_AVAILABILITY when the location cannot offer them.
func (s *Service) Create(ctx context.Context, orderID, sku, location string, quantity int) (*Reservation, error) {
	if quantity <= 0 {
		return nil, apperror.NewInvalidInput("reservation quantity must be positive").
			WithDetail("quantity", quantity)
	}

	var created *Reservation
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		available, err := s.availability.AvailableForUpdate(ctx, location, sku)
		if err != nil {
			return fmt.Errorf("check availability: %w", err)
		}
		if quantity > available {
			return apperror.NewInsufficientAvailability(location, sku, quantity, available)
		}

		r := New(orderID, sku, location, quantity, s.now(), s.ttl)
		if err := s.repo.Insert(ctx, r); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		if err := s.record(ctx, NewEvent(EventCreated, r)); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "reservation created",
		"reservation_id", created.ID,
		"order_id", orderID,
		"sku", sku,
		"location", location,
		"quantity", quantity,
		"expires_at", created.ExpiresAt,
	)
	return created, nil
}

// Complete marks a reservation as picked with the actually picked quantity.
// Completing a reservation that is not active is an INVALID_STATE error.
func (s *Service) Complete(ctx context.Context, reservationID id.ID, picked int) (*Reservation, error) {
	r, err := s.transitionOne(ctx, reservationID, func(r *Reservation, now time.Time) error {
		return r.Complete(picked, now)
	})
	if err != nil {
		return nil, err
	}

	if short := r.Shortfall(); short > 0 {
		logger.Warn(ctx, "reservation completed with under-pick",
			"reservation_id", r.ID,
			"order_id", r.OrderID,
			"sku", r.SKU,
			"location", r.Location,
			"reserved", r.Quantity,
			"picked", r.PickedQuantity,
			"withheld_until", r.ExpiresAt,
		)
	} else {
		logger.Info(ctx, "reservation completed",
			"reservation_id", r.ID,
			"order_id", r.OrderID,
			"picked", r.PickedQuantity,
		)
	}
	return r, nil
}

// Cancel cancels an active reservation.
func (s *Service) Cancel(ctx context.Context, reservationID id.ID) (*Reservation, error) {
	r, err := s.transitionOne(ctx, reservationID, func(r *Reservation, now time.Time) error {
		return r.Cancel(now)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "reservation cancelled",
		"reservation_id", r.ID,
		"order_id", r.OrderID,
		"quantity", r.Quantity,
	)
	return r, nil
}

func (s *Service) transitionOne(ctx context.Context, reservationID id.ID, apply func(*Reservation, time.Time) error) (*Reservation, error) {
	var out *Reservation
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := apply(r, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if err := s.record(ctx, NewEvent(eventTypeFor(r.Status), r)); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// ExpireDue moves every active reservation with expires_at <= now to expired.
// Safe to run concurrently with Create: rows are transitioned by a single
// conditional update.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	return s.transitionAll(ctx, StatusExpired, &now)
}

// CancelAll cancels every active reservation. Irreversible; meant for
// operator-triggered incident recovery.
func (s *Service) CancelAll(ctx context.Context) (int, error) {
	return s.transitionAll(ctx, StatusCancelled, nil)
}

func (s *Service) transitionAll(ctx context.Context, to Status, dueBy *time.Time) (int, error) {
	if err := CheckTransition(id.ID{}, StatusActive, to); err != nil {
		return 0, err
	}

	var moved []*Reservation
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.repo.TransitionActive(ctx, to, dueBy, s.now())
		if err != nil {
			return fmt.Errorf("transition active reservations: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		events := make([]Event, len(rows))
		for i, r := range rows {
			events[i] = NewEvent(eventTypeFor(to), r)
		}
		if err := s.record(ctx, events...); err != nil {
			return err
		}
		moved = rows
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(moved) > 0 {
		logger.Info(ctx, "reservations transitioned in bulk",
			"status", to,
			"count", len(moved),
		)
	}
	return len(moved), nil
}

// FindActive returns the live reservations of orderID for sku.
func (s *Service) FindActive(ctx context.Context, orderID, sku string) ([]*Reservation, error) {
	return s.repo.FindActive(ctx, orderID, sku, s.now())
}

// FindActiveAt returns the live reservations of orderID for sku at location.
func (s *Service) FindActiveAt(ctx context.Context, orderID, sku, location string) ([]*Reservation, error) {
	return s.repo.FindActiveAt(ctx, orderID, sku, location, s.now())
}

// ListByOrder returns every reservation of an order.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*Reservation, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// Get returns a reservation by id.
func (s *Service) Get(ctx context.Context, reservationID id.ID) (*Reservation, error) {
	return s.repo.Get(ctx, reservationID)
}

func (s *Service) record(ctx context.Context, events ...Event) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Record(ctx, events...); err != nil {
		return fmt.Errorf("record reservation events: %w", err)
	}
	return nil
}
