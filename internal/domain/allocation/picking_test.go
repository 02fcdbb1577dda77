package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/reservation"
)

func allocateOne(t *testing.T, f *fixture, orderID, sku string, qty int) allocation.Result {
	t.Helper()
	res, err := f.svc.Allocate(context.Background(), orderID, []allocation.Demand{{SKU: sku, Quantity: qty}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

func TestCompletePick_DecrementsStock(t *testing.T) {
	f := newFixture(t, true, stockLine{"1A1P1", "SKU-1", 12})
	ctx := context.Background()

	r := allocateOne(t, f, "order-1", "SKU-1", 10)
	rid := r.Allocations[0].ReservationID

	done, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCompleted, done.Status)
	assert.Equal(t, 10, done.PickedQuantity)

	physical, err := f.store.Inventory().PhysicalQuantity(ctx, "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 2, physical)

	available, err := f.calc.AvailableQuantity(ctx, "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 2, available)

	open, err := f.store.Commitments().OpenCommitments(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 10, open[0].Quantity)
	assert.Equal(t, rid, *open[0].ReservationID)
}

func TestCompletePick_UnderPickWithholdsRemainder(t *testing.T) {
	f := newFixture(t, true, stockLine{"1A1P1", "SKU-1", 10})
	ctx := context.Background()

	r := allocateOne(t, f, "order-1", "SKU-1", 10)
	rid := r.Allocations[0].ReservationID

	done, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: 7})
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCompleted, done.Status)
	assert.Equal(t, 3, done.Shortfall())

	physical, err := f.store.Inventory().PhysicalQuantity(ctx, "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 3, physical)

	available, err := f.calc.AvailableQuantity(ctx, "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 0, available, "unpicked units must not be offered")

	other := allocateOne(t, f, "order-2", "SKU-1", 3)
	assert.Equal(t, 0, other.AllocatedQty)

	f.clock.Advance(reservation.DefaultTTL)

	available, err = f.calc.AvailableQuantity(ctx, "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 3, available)
}

func TestCompletePick_ByOrderSKULocation(t *testing.T) {
	f := newFixture(t, true, fourLocations("SKU-1")...)
	ctx := context.Background()

	allocateOne(t, f, "order-1", "SKU-1", 15)

	done, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{
		OrderID: "order-1", SKU: "SKU-1", Location: "1A1P2", Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "1A1P2", done.Location)
	assert.Equal(t, 5, done.PickedQuantity)

	_, err = f.svc.CompletePick(ctx, allocation.PickConfirmation{
		OrderID: "order-1", SKU: "SKU-1", Location: "1A1P2", Quantity: 5,
	})
	assert.True(t, apperror.IsNotFound(err), "got %v", err)
}

func TestCompletePick_Rejections(t *testing.T) {
	f := newFixture(t, true, stockLine{"1A1P1", "SKU-1", 10})
	ctx := context.Background()

	r := allocateOne(t, f, "order-1", "SKU-1", 5)
	rid := r.Allocations[0].ReservationID

	t.Run("non-positive quantity", func(t *testing.T) {
		_, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: 0})
		assert.True(t, apperror.IsInvalidInput(err))
	})

	t.Run("over-pick", func(t *testing.T) {
		_, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: 6})
		assert.True(t, apperror.IsInvalidInput(err))
	})

	t.Run("unknown reservation", func(t *testing.T) {
		missing := id.New()
		_, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &missing, Quantity: 1})
		assert.True(t, apperror.IsNotFound(err))
	})

	t.Run("missing identity", func(t *testing.T) {
		_, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{OrderID: "order-1", Quantity: 1})
		assert.True(t, apperror.IsInvalidInput(err))
	})

	t.Run("completed twice", func(t *testing.T) {
		_, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: 5})
		require.NoError(t, err)

		_, err = f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: 5})
		assert.True(t, apperror.IsInvalidState(err))

		physical, err := f.store.Inventory().PhysicalQuantity(ctx, "1A1P1", "SKU-1")
		require.NoError(t, err)
		assert.Equal(t, 5, physical, "rejected pick must not touch stock")
	})
}

func TestCompletePick_ExpiredReservation(t *testing.T) {
	f := newFixture(t, false, stockLine{"1A1P1", "SKU-1", 10})
	ctx := context.Background()

	r := allocateOne(t, f, "order-1", "SKU-1", 4)
	rid := r.Allocations[0].ReservationID

	f.clock.Advance(reservation.DefaultTTL + time.Second)

	_, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: 4})
	assert.True(t, apperror.IsInvalidState(err))
}

func TestCompletePick_AmbiguousTriple(t *testing.T) {
	f := newFixture(t, true, stockLine{"1A1P1", "SKU-1", 10})
	ctx := context.Background()

	_, err := f.reservations.Create(ctx, "order-1", "SKU-1", "1A1P1", 2)
	require.NoError(t, err)
	_, err = f.reservations.Create(ctx, "order-1", "SKU-1", "1A1P1", 3)
	require.NoError(t, err)

	_, err = f.svc.CompletePick(ctx, allocation.PickConfirmation{
		OrderID: "order-1", SKU: "SKU-1", Location: "1A1P1", Quantity: 2,
	})
	assert.True(t, apperror.IsInvalidInput(err))
}

func TestReleaseOrder_RestoresToFallback(t *testing.T) {
	f := newFixture(t, true, fourLocations("SKU-1")...)
	ctx := context.Background()

	r := allocateOne(t, f, "order-1", "SKU-1", 15)
	for _, a := range r.Allocations {
		rid := a.ReservationID
		_, err := f.svc.CompletePick(ctx, allocation.PickConfirmation{ReservationID: &rid, Quantity: a.Quantity})
		require.NoError(t, err)
	}

	released, err := f.svc.ReleaseOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, released, 2)
	for _, c := range released {
		require.NotNil(t, c.ReleasedTo)
		assert.Equal(t, "FLOOR", *c.ReleasedTo)
	}

	floor, err := f.store.Inventory().PhysicalQuantity(ctx, "FLOOR", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 15, floor)

	// the original slots stay drained
	physical, err := f.store.Inventory().PhysicalQuantity(ctx, "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 0, physical)

	again, err := f.svc.ReleaseOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, again)

	// released stock is allocatable again from the fallback location
	next := allocateOne(t, f, "order-2", "SKU-1", 36)
	assert.Equal(t, 36, next.AllocatedQty)
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t, true, stockLine{"1A1P1", "SKU-1", 10})
	ctx := context.Background()

	r := allocateOne(t, f, "order-1", "SKU-1", 10)
	rid := r.Allocations[0].ReservationID

	cancelled, err := f.svc.CancelReservation(ctx, rid)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, cancelled.Status)

	available, err := f.calc.AvailableQuantity(ctx, "1A1P1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 10, available)

	_, err = f.svc.CancelReservation(ctx, rid)
	assert.True(t, apperror.IsInvalidState(err))
}
