package allocation

import (
	"context"
	"fmt"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/reservation"
	"stockpick/pkg/logger"
)

// PickConfirmation reports units physically taken from a location.
// Either ReservationID or the (OrderID, SKU, Location) triple identifies
// the reservation being picked.
type PickConfirmation struct {
	ReservationID *id.ID
	OrderID       string
	SKU           string
	Location      string
	Quantity      int
}

// CompletePick completes the reservation, takes the picked units out of
// physical stock and records them as an outgoing commitment of the order.
// All three happen in one transaction.
func (s *Service) CompletePick(ctx context.Context, p PickConfirmation) (*reservation.Reservation, error) {
	if p.Quantity <= 0 {
		return nil, apperror.NewInvalidInput("picked quantity must be positive").
			WithDetail("quantity", p.Quantity)
	}

	var completed *reservation.Reservation
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		reservationID, err := s.resolveReservation(ctx, p)
		if err != nil {
			return err
		}

		r, err := s.reservations.Complete(ctx, reservationID, p.Quantity)
		if err != nil {
			return err
		}

		if err := s.inventory.AdjustQuantity(ctx, r.Location, r.SKU, -r.PickedQuantity); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		commitment := &Commitment{
			ID:            id.New(),
			OrderID:       r.OrderID,
			SKU:           r.SKU,
			Location:      r.Location,
			Quantity:      r.PickedQuantity,
			ReservationID: &r.ID,
			CreatedAt:     s.now(),
		}
		if err := s.commitments.AddCommitment(ctx, commitment); err != nil {
			return fmt.Errorf("add commitment: %w", err)
		}

		completed = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observer.PickConfirmed(completed.PickedQuantity, completed.Shortfall())
	s.observer.ReservationsTransitioned(string(reservation.StatusCompleted), 1)
	return completed, nil
}

func (s *Service) resolveReservation(ctx context.Context, p PickConfirmation) (id.ID, error) {
	if p.ReservationID != nil {
		return *p.ReservationID, nil
	}
	if p.OrderID == "" || p.SKU == "" || p.Location == "" {
		return id.ID{}, apperror.NewInvalidInput("reservationId or orderId, sku and location are required")
	}

	matches, err := s.reservations.FindActiveAt(ctx, p.OrderID, p.SKU, p.Location)
	if err != nil {
		return id.ID{}, fmt.Errorf("find reservation: %w", err)
	}
	switch len(matches) {
	case 0:
		return id.ID{}, apperror.NewNotFound("reservation", fmt.Sprintf("%s/%s@%s", p.OrderID, p.SKU, p.Location))
	case 1:
		return matches[0].ID, nil
	}
	return id.ID{}, apperror.NewInvalidInput("several active reservations match; pass reservationId").
		WithDetail("matches", len(matches))
}

// ReleaseOrder restores every open outgoing commitment of orderID into
// stock at the fallback location and marks it released. Reservation states
// are left untouched; open reservations are cancelled through
// CancelReservation.
func (s *Service) ReleaseOrder(ctx context.Context, orderID string) ([]*Commitment, error) {
	if orderID == "" {
		return nil, apperror.NewInvalidInput("orderId is required")
	}

	var released []*Commitment
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		open, err := s.commitments.OpenCommitments(ctx, orderID)
		if err != nil {
			return fmt.Errorf("open commitments: %w", err)
		}

		now := s.now()
		for _, c := range open {
			if err := s.inventory.AdjustQuantity(ctx, s.cfg.FallbackLocation, c.SKU, c.Quantity); err != nil {
				return fmt.Errorf("restock %s: %w", c.SKU, err)
			}
			if err := s.commitments.MarkReleased(ctx, c.ID, s.cfg.FallbackLocation, now); err != nil {
				return fmt.Errorf("mark released: %w", err)
			}
			to := s.cfg.FallbackLocation
			c.ReleasedAt = &now
			c.ReleasedTo = &to
		}
		released = open
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "order released",
		"order_id", orderID,
		"commitments", len(released),
		"fallback_location", s.cfg.FallbackLocation,
	)
	return released, nil
}
