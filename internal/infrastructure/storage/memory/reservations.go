package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/reservation"
)

var _ reservation.Repository = (*Reservations)(nil)

// Reservations is the reservation repository view of Store.
type Reservations struct {
	s *Store
}

func (r *Reservations) Insert(ctx context.Context, res *reservation.Reservation) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.st.reservations[res.ID]; ok {
		return apperror.NewInvalidInput("duplicate reservation id").WithDetail("id", res.ID)
	}
	r.s.st.seq++
	r.s.st.inserted[res.ID] = r.s.st.seq
	r.s.st.reservations[res.ID] = cloneReservation(res)
	return nil
}

func (r *Reservations) Get(ctx context.Context, reservationID id.ID) (*reservation.Reservation, error) {
	defer r.s.lock(ctx)()

	res, ok := r.s.st.reservations[reservationID]
	if !ok {
		return nil, apperror.NewNotFound("reservation", reservationID)
	}
	return cloneReservation(res), nil
}

func (r *Reservations) GetForUpdate(ctx context.Context, reservationID id.ID) (*reservation.Reservation, error) {
	return r.Get(ctx, reservationID)
}

func (r *Reservations) Update(ctx context.Context, res *reservation.Reservation) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.st.reservations[res.ID]; !ok {
		return apperror.NewNotFound("reservation", res.ID)
	}
	r.s.st.reservations[res.ID] = cloneReservation(res)
	return nil
}

func (r *Reservations) FindActive(ctx context.Context, orderID, sku string, now time.Time) ([]*reservation.Reservation, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(res *reservation.Reservation) bool {
		return res.OrderID == orderID && res.SKU == sku && res.IsLive(now)
	}), nil
}

func (r *Reservations) FindActiveAt(ctx context.Context, orderID, sku, loc string, now time.Time) ([]*reservation.Reservation, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(res *reservation.Reservation) bool {
		return res.OrderID == orderID && res.SKU == sku && res.Location == loc && res.IsLive(now)
	}), nil
}

func (r *Reservations) ListByOrder(ctx context.Context, orderID string) ([]*reservation.Reservation, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(res *reservation.Reservation) bool {
		return res.OrderID == orderID
	}), nil
}

func (r *Reservations) Holds(ctx context.Context, sku string, now time.Time) ([]reservation.Hold, error) {
	defer r.s.lock(ctx)()

	byLocation := make(map[string]*reservation.Hold)
	var order []string
	for _, res := range r.s.st.reservations {
		if res.SKU != sku {
			continue
		}
		h, ok := byLocation[res.Location]
		if !ok {
			h = &reservation.Hold{Location: res.Location}
			byLocation[res.Location] = h
			order = append(order, res.Location)
		}
		addToHold(h, res, now)
	}

	slices.Sort(order)
	out := make([]reservation.Hold, 0, len(order))
	for _, loc := range order {
		out = append(out, *byLocation[loc])
	}
	return out, nil
}

func (r *Reservations) HoldAt(ctx context.Context, loc, sku string, now time.Time) (reservation.Hold, error) {
	defer r.s.lock(ctx)()

	h := reservation.Hold{Location: loc}
	for _, res := range r.s.st.reservations {
		if res.SKU == sku && res.Location == loc {
			addToHold(&h, res, now)
		}
	}
	return h, nil
}

func (r *Reservations) TransitionActive(ctx context.Context, to reservation.Status, dueBy *time.Time, now time.Time) ([]*reservation.Reservation, error) {
	defer r.s.lock(ctx)()

	moved := r.filter(func(res *reservation.Reservation) bool {
		if res.Status != reservation.StatusActive {
			return false
		}
		return dueBy == nil || !res.ExpiresAt.After(*dueBy)
	})
	for _, res := range moved {
		res.Status = to
		res.UpdatedAt = now
		r.s.st.reservations[res.ID] = cloneReservation(res)
	}
	return moved, nil
}

// filter returns clones of matching reservations, oldest first.
func (r *Reservations) filter(match func(*reservation.Reservation) bool) []*reservation.Reservation {
	var out []*reservation.Reservation
	for _, res := range r.s.st.reservations {
		if match(res) {
			out = append(out, cloneReservation(res))
		}
	}
	slices.SortFunc(out, func(a, b *reservation.Reservation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(r.s.st.inserted[a.ID], r.s.st.inserted[b.ID])
	})
	return out
}

func addToHold(h *reservation.Hold, res *reservation.Reservation, now time.Time) {
	live := now.Before(res.ExpiresAt)
	switch res.Status {
	case reservation.StatusActive:
		h.HasActive = true
		if live {
			h.Reserved += res.Quantity
		}
	case reservation.StatusCompleted:
		if live {
			h.Withheld += res.Quantity - res.PickedQuantity
		}
	}
}
