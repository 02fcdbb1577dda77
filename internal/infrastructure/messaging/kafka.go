// Package messaging delivers outbox messages to the message broker.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"stockpick/internal/infrastructure/storage/postgres"
	"stockpick/pkg/logger"
)

// Config holds Kafka producer settings.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublishObserver is told about every delivery attempt (metrics).
type PublishObserver interface {
	EventPublished(eventType string, err error)
}

// KafkaPublisher implements postgres.OutboxHandler on top of a kafka-go writer.
type KafkaPublisher struct {
	writer   messageWriter
	topic    string
	observer PublishObserver
}

var _ postgres.OutboxHandler = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a synchronous publisher for cfg.Topic.
func NewKafkaPublisher(cfg Config, observer PublishObserver) *KafkaPublisher {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafkaPublisher(writer, cfg.Topic, observer)
}

func newKafkaPublisher(writer messageWriter, topic string, observer PublishObserver) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, observer: observer}
}

// Handle publishes one outbox message. Messages are keyed by partition key
// so events of one order keep their order.
func (p *KafkaPublisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	key := msg.PartitionKey
	if key == "" {
		key = msg.AggregateID.String()
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(msg.ID.String())},
			{Key: "event-type", Value: []byte(msg.EventType)},
			{Key: "aggregate-type", Value: []byte(msg.AggregateType)},
			{Key: "aggregate-id", Value: []byte(msg.AggregateID.String())},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: msg.CreatedAt,
	})
	if p.observer != nil {
		p.observer.EventPublished(msg.EventType, err)
	}
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.EventType, p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is the outbox handler used when no broker is configured:
// it logs each event and marks it delivered.
type LogPublisher struct{}

var _ postgres.OutboxHandler = LogPublisher{}

func (LogPublisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	logger.Info(ctx, "outbox event",
		"event_id", msg.ID,
		"event_type", msg.EventType,
		"aggregate_id", msg.AggregateID,
		"partition_key", msg.PartitionKey,
	)
	return nil
}
