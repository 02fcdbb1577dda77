package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpick/internal/domain/reservation"
)

func TestSweeper_ExpiresOnlyDueReservations(t *testing.T) {
	f := newFixture(t, false, fourLocations("SKU-1")...)
	ctx := context.Background()

	allocateOne(t, f, "order-1", "SKU-1", 5)
	f.clock.Advance(time.Hour)
	allocateOne(t, f, "order-2", "SKU-1", 5)

	f.clock.Advance(reservation.DefaultTTL - time.Hour)

	n, err := f.svc.Sweeper().Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first, err := f.svc.ListOrderReservations(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusExpired, first[0].Status)

	second, err := f.svc.ListOrderReservations(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusActive, second[0].Status)

	n, err = f.svc.Sweeper().Sweep(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_EmergencyResetAll(t *testing.T) {
	f := newFixture(t, false, fourLocations("SKU-1")...)
	ctx := context.Background()

	allocateOne(t, f, "order-1", "SKU-1", 15)
	allocateOne(t, f, "order-2", "SKU-1", 3)

	n, err := f.svc.Sweeper().EmergencyResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	report, err := f.svc.Availability(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 36, report.TotalAvailable)

	var cancelled int
	for _, e := range f.store.Events() {
		if e.Type == reservation.EventCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 3, cancelled)
}

func TestSweeper_RunWithNonPositiveInterval(t *testing.T) {
	f := newFixture(t, false, fourLocations("SKU-1")...)

	for _, interval := range []time.Duration{0, -time.Second} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.NotPanics(t, func() {
			f.svc.Sweeper().Run(ctx, interval)
		}, "interval %s", interval)
	}
}
