package allocation

import (
	"context"
	"time"

	"stockpick/internal/domain/reservation"
	"stockpick/pkg/logger"
)

// DefaultSweepInterval is used by Run when no positive interval is given.
const DefaultSweepInterval = time.Minute

// Sweeper reclaims expired reservations. Availability already ignores
// expired rows, so sweeping is hygiene rather than a correctness mechanism.
type Sweeper struct {
	reservations *reservation.Service
	observer     Observer
}

// NewSweeper creates a sweeper.
func NewSweeper(reservations *reservation.Service, observer Observer) *Sweeper {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Sweeper{reservations: reservations, observer: observer}
}

// Sweep expires every active reservation with expires_at <= now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := s.reservations.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	s.observer.ReservationsTransitioned(string(reservation.StatusExpired), n)
	return n, nil
}

// EmergencyResetAll cancels every active reservation.
func (s *Sweeper) EmergencyResetAll(ctx context.Context) (int, error) {
	n, err := s.reservations.CancelAll(ctx)
	if err != nil {
		return 0, err
	}
	s.observer.ReservationsTransitioned(string(reservation.StatusCancelled), n)
	logger.Warn(ctx, "emergency reset cancelled all active reservations", "count", n)
	return n, nil
}

// Now returns the reservation clock.
func (s *Sweeper) Now() time.Time {
	return s.reservations.Now()
}

// Run sweeps on every tick until ctx is done. A non-positive interval
// falls back to DefaultSweepInterval.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		logger.Warn(ctx, "invalid sweep interval, using default",
			"interval", interval, "default", DefaultSweepInterval)
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx, s.Now())
			if err != nil {
				logger.Error(ctx, "expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "expired reservations swept", "count", n)
			}
		}
	}
}
