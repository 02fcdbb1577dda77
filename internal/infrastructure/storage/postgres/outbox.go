package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"stockpick/internal/core/id"
	"stockpick/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// MaxOutboxRetries is the number of failed deliveries after which a
// message is parked as failed.
const MaxOutboxRetries = 5

// OutboxMessage represents a message in the transactional outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"` // e.g. "reservation"
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"` // e.g. "reservation.created"
	PartitionKey  string       `db:"partition_key"`
	Payload       []byte       `db:"payload"` // JSON payload
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// DomainEvent represents an event to be published via outbox.
type DomainEvent struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	// PartitionKey keeps events of one order in order on the broker.
	PartitionKey string
	Payload      any
}

const insertOutboxSQL = `
	INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, partition_key, payload, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// OutboxPublisher writes events to the outbox table.
type OutboxPublisher struct {
	txManager *TxManager
}

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

// Publish writes an event to the outbox within the current transaction.
// MUST be called inside a transaction context.
func (p *OutboxPublisher) Publish(ctx context.Context, event DomainEvent) error {
	return p.PublishBatch(ctx, []DomainEvent{event})
}

// PublishBatch writes multiple events to the outbox in one round-trip.
// MUST be called inside a transaction context.
func (p *OutboxPublisher) PublishBatch(ctx context.Context, events []DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx := p.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, event := range events {
		payloadBytes, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		batch.Queue(insertOutboxSQL,
			id.New(), event.AggregateType, event.AggregateID, event.EventType,
			event.PartitionKey, payloadBytes, OutboxStatusPending, now)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert outbox message: %w", err)
		}
	}
	return nil
}

// OutboxHandler processes outbox messages.
type OutboxHandler interface {
	// Handle processes a message and returns error if failed
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelay delivers pending outbox messages to an OutboxHandler.
//
// Messages sharing a partition key (an order) are delivered in creation
// order: once one fails, the later messages of that order wait for the
// next batch instead of overtaking it.
type OutboxRelay struct {
	txManager *TxManager
	batchSize int
	handler   OutboxHandler
	now       func() time.Time
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		txManager: txManager,
		batchSize: batchSize,
		handler:   handler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// BatchSize is the maximum number of messages per ProcessBatch call.
func (r *OutboxRelay) BatchSize() int {
	return r.batchSize
}

const selectPendingOutboxSQL = `
	SELECT id, aggregate_type, aggregate_id, event_type, partition_key, payload, status,
	       retry_count, last_error, next_retry_at, created_at, published_at
	FROM sys_outbox
	WHERE status = $1
	  AND (next_retry_at IS NULL OR next_retry_at <= $2)
	ORDER BY created_at, id
	LIMIT $3
	FOR UPDATE SKIP LOCKED`

// ProcessBatch delivers one batch of pending messages in one transaction.
// SKIP LOCKED lets several relays run side by side. It returns the number
// of published messages.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	published := 0
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		querier := r.txManager.GetQuerier(ctx)
		now := r.now()

		var messages []*OutboxMessage
		if err := pgxscan.Select(ctx, querier, &messages, selectPendingOutboxSQL,
			OutboxStatusPending, now, r.batchSize); err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		blocked := make(map[string]bool)
		for _, msg := range messages {
			if msg.PartitionKey != "" && blocked[msg.PartitionKey] {
				continue
			}

			delivered, err := r.deliver(ctx, querier, msg, now)
			if err != nil {
				return err
			}
			if !delivered {
				blocked[msg.PartitionKey] = true
				continue
			}
			published++
		}
		return nil
	})
	return published, err
}

// deliver hands msg to the handler and records the outcome. A handler
// failure is not an error of the batch: the message is rescheduled with
// linear backoff and parked as failed after MaxOutboxRetries attempts.
func (r *OutboxRelay) deliver(ctx context.Context, querier Querier, msg *OutboxMessage, now time.Time) (bool, error) {
	handleErr := r.handler.Handle(ctx, msg)
	if handleErr == nil {
		if _, err := querier.Exec(ctx, `UPDATE sys_outbox SET status = $1, published_at = $2 WHERE id = $3`,
			OutboxStatusPublished, now, msg.ID); err != nil {
			return false, fmt.Errorf("mark outbox message published: %w", err)
		}
		return true, nil
	}

	attempts := msg.RetryCount + 1
	status := OutboxStatusPending
	if attempts >= MaxOutboxRetries {
		status = OutboxStatusFailed
	}
	nextRetry := now.Add(time.Duration(attempts) * time.Minute)

	if _, err := querier.Exec(ctx, `
		UPDATE sys_outbox
		SET retry_count = $1, last_error = $2, next_retry_at = $3, status = $4
		WHERE id = $5`,
		attempts, handleErr.Error(), nextRetry, status, msg.ID); err != nil {
		return false, fmt.Errorf("reschedule outbox message: %w", err)
	}

	if status == OutboxStatusFailed {
		logger.Error(ctx, "outbox message parked",
			"message_id", msg.ID,
			"event_type", msg.EventType,
			"partition_key", msg.PartitionKey,
			"attempts", attempts,
			"error", handleErr)
	} else {
		logger.Warn(ctx, "outbox message not delivered",
			"message_id", msg.ID,
			"event_type", msg.EventType,
			"attempts", attempts,
			"next_retry_at", nextRetry,
			"error", handleErr)
	}
	return false, nil
}

// CleanupPublished deletes published messages older than retention.
func (r *OutboxRelay) CleanupPublished(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_outbox WHERE status = $1 AND published_at < $2`,
		OutboxStatusPublished, r.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
