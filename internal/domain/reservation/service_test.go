package reservation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpick/internal/core/apperror"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/reservation"
	"stockpick/internal/infrastructure/storage/memory"
)

type fixedAvailability map[string]int

func (f fixedAvailability) AvailableForUpdate(_ context.Context, location, _ string) (int, error) {
	return f[location], nil
}

type failingSink struct{}

func (failingSink) Record(context.Context, ...reservation.Event) error {
	return errors.New("sink down")
}

var start = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newService(store *memory.Store, avail reservation.AvailabilityChecker, sink reservation.EventSink, now *time.Time) *reservation.Service {
	return reservation.NewService(store.Reservations(), store, avail, sink, reservation.Config{
		TTL: 30 * time.Minute,
		Now: func() time.Time { return *now },
	})
}

func TestService_Create(t *testing.T) {
	store := memory.New()
	now := start
	svc := newService(store, fixedAvailability{"1A1P1": 5}, store, &now)
	ctx := context.Background()

	r, err := svc.Create(ctx, "order-1", "SKU-1", "1A1P1", 5)
	require.NoError(t, err)
	assert.Equal(t, start.Add(30*time.Minute), r.ExpiresAt)

	_, err = svc.Create(ctx, "order-1", "SKU-1", "1A1P1", 6)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientAvailability, appErr.Code)
	assert.Equal(t, 6, appErr.Details["requested"])
	assert.Equal(t, 5, appErr.Details["available"])

	_, err = svc.Create(ctx, "order-1", "SKU-1", "1A1P1", 0)
	assert.True(t, apperror.IsInvalidInput(err))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, reservation.EventCreated, events[0].Type)
}

func TestService_CreateRollsBackWhenSinkFails(t *testing.T) {
	store := memory.New()
	now := start
	svc := newService(store, fixedAvailability{"1A1P1": 5}, failingSink{}, &now)

	_, err := svc.Create(context.Background(), "order-1", "SKU-1", "1A1P1", 2)
	require.Error(t, err)

	list, err := svc.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_Transitions(t *testing.T) {
	store := memory.New()
	now := start
	svc := newService(store, fixedAvailability{"1A1P1": 100}, store, &now)
	ctx := context.Background()

	a, err := svc.Create(ctx, "order-1", "SKU-1", "1A1P1", 4)
	require.NoError(t, err)
	b, err := svc.Create(ctx, "order-1", "SKU-1", "1A1P1", 4)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, a.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCompleted, done.Status)

	stored, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.PickedQuantity)

	_, err = svc.Cancel(ctx, a.ID)
	assert.True(t, apperror.IsInvalidState(err))

	live, err := svc.FindActive(ctx, "order-1", "SKU-1")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, b.ID, live[0].ID)

	now = now.Add(time.Hour)
	n, err := svc.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err = svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusExpired, stored.Status)
}

func TestService_CancelAll(t *testing.T) {
	store := memory.New()
	now := start
	svc := newService(store, fixedAvailability{"1A1P1": 100, "1A1P2": 100}, store, &now)
	ctx := context.Background()

	_, err := svc.Create(ctx, "order-1", "SKU-1", "1A1P1", 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "order-2", "SKU-2", "1A1P2", 1)
	require.NoError(t, err)

	n, err := svc.CancelAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.CancelAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_GetUnknown(t *testing.T) {
	store := memory.New()
	now := start
	svc := newService(store, fixedAvailability{}, store, &now)

	_, err := svc.Get(context.Background(), id.New())
	assert.True(t, apperror.IsNotFound(err))
}
