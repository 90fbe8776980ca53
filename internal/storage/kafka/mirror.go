package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
)

// Config contains connection parameters for the audit mirror.
type Config struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic audit entries are published to.
	Topic string
}

// messageWriter is the subset of kafka.Writer behavior the mirror needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Mirror publishes audit entries to a Kafka topic. It is a secondary sink:
// the primary audit log stays authoritative, and a failed publish must never
// undo the state change that produced the entry.
type Mirror struct {
	writer messageWriter
}

// NewMirror constructs a Mirror connected to the given brokers.
func NewMirror(cfg Config) (*Mirror, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		// Entries are keyed by feature name; the hash balancer keeps every
		// entry for a feature on one partition, so per-feature order holds.
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	})

	return &Mirror{writer: w}, nil
}

// Append publishes the entry as compact JSON, keyed by feature name.
func (m *Mirror) Append(ctx context.Context, entry *rollout.AuditEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.Feature),
		Value: value,
		Time:  entry.CreatedAt,
	}
	if err := m.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (m *Mirror) Close() error {
	return m.writer.Close()
}

var _ storage.AuditAppender = (*Mirror)(nil)
