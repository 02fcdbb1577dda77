package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpick/internal/core/id"
)

var outboxColumns = []string{
	"id", "aggregate_type", "aggregate_id", "event_type", "partition_key", "payload", "status",
	"retry_count", "last_error", "next_retry_at", "created_at", "published_at",
}

var relayNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// idArg matches an id passed either as id.ID or as its string form.
type idArg id.ID

func (a idArg) Match(v any) bool {
	return fmt.Sprint(v) == id.ID(a).String()
}

type scriptedHandler struct {
	fail    map[id.ID]error
	handled []id.ID
}

func (h *scriptedHandler) Handle(_ context.Context, msg *OutboxMessage) error {
	h.handled = append(h.handled, msg.ID)
	return h.fail[msg.ID]
}

func newMockRelay(t *testing.T, handler OutboxHandler) (*OutboxRelay, pgxmock.PgxPoolIface) {
	t.Helper()
	txm, mock := newMockTxManager(t)
	relay := NewOutboxRelay(txm, 10, handler)
	relay.now = func() time.Time { return relayNow }
	return relay, mock
}

func addOutboxRow(rows *pgxmock.Rows, msgID id.ID, orderID string, retries int, created time.Time) *pgxmock.Rows {
	return rows.AddRow(msgID, "reservation", id.New(), "reservation.created", orderID,
		[]byte(`{}`), OutboxStatusPending, retries, (*string)(nil), (*time.Time)(nil), created, (*time.Time)(nil))
}

func TestOutboxRelay_FailureHoldsBackLaterMessagesOfSameOrder(t *testing.T) {
	first, second, other := id.New(), id.New(), id.New()
	handler := &scriptedHandler{fail: map[id.ID]error{first: errors.New("broker down")}}
	relay, mock := newMockRelay(t, handler)

	rows := pgxmock.NewRows(outboxColumns)
	addOutboxRow(rows, first, "ORD-1", 0, relayNow.Add(-3*time.Second))
	addOutboxRow(rows, second, "ORD-1", 0, relayNow.Add(-2*time.Second))
	addOutboxRow(rows, other, "ORD-2", 0, relayNow.Add(-time.Second))

	expectBegin(mock)
	mock.ExpectQuery("FROM sys_outbox").
		WithArgs(OutboxStatusPending, relayNow, 10).
		WillReturnRows(rows)
	mock.ExpectExec("SET retry_count").
		WithArgs(1, "broker down", relayNow.Add(time.Minute), OutboxStatusPending, idArg(first)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET status = \\$1, published_at").
		WithArgs(OutboxStatusPublished, relayNow, idArg(other)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []id.ID{first, other}, handler.handled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRelay_ParksAfterMaxRetries(t *testing.T) {
	msgID := id.New()
	handler := &scriptedHandler{fail: map[id.ID]error{msgID: errors.New("schema rejected")}}
	relay, mock := newMockRelay(t, handler)

	expectBegin(mock)
	mock.ExpectQuery("FROM sys_outbox").
		WithArgs(OutboxStatusPending, relayNow, 10).
		WillReturnRows(addOutboxRow(pgxmock.NewRows(outboxColumns), msgID, "ORD-1", MaxOutboxRetries-1, relayNow))
	mock.ExpectExec("SET retry_count").
		WithArgs(MaxOutboxRetries, "schema rejected", relayNow.Add(MaxOutboxRetries*time.Minute),
			OutboxStatusFailed, idArg(msgID)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRelay_RescheduleErrorRollsBack(t *testing.T) {
	msgID := id.New()
	handler := &scriptedHandler{fail: map[id.ID]error{msgID: errors.New("broker down")}}
	relay, mock := newMockRelay(t, handler)

	expectBegin(mock)
	mock.ExpectQuery("FROM sys_outbox").
		WithArgs(OutboxStatusPending, relayNow, 10).
		WillReturnRows(addOutboxRow(pgxmock.NewRows(outboxColumns), msgID, "ORD-1", 0, relayNow))
	mock.ExpectExec("SET retry_count").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := relay.ProcessBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reschedule outbox message")
	require.NoError(t, mock.ExpectationsWereMet())
}
