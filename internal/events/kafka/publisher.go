// Package kafka publishes engine lifecycle events for downstream consumers
// (notifications, analytics, reconciliation). Publishing is best-effort:
// event delivery never blocks or fails a settled operation.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topics.
const (
	TopicDistributionCompleted = "distribution_completed"
	TopicLoanEvents            = "loan_events"
	TopicPoolEvents            = "pool_events"
)

// DistributionCompletedEvent is emitted after a distribution run result is
// durably recorded.
type DistributionCompletedEvent struct {
	DistributionID string `json:"distribution_id"`
	GroveID        string `json:"grove_id"`
	HarvestID      string `json:"harvest_id"`
	TotalHolders   int    `json:"total_holders"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
	CompletedAt    int64  `json:"completed_at"`
}

// LoanEvent is emitted on every loan state transition.
type LoanEvent struct {
	LoanID          string `json:"loan_id"`
	BorrowerAddress string `json:"borrower_address"`
	Asset           string `json:"asset"`
	Status          string `json:"status"`
	Timestamp       int64  `json:"timestamp"`
}

// PoolEvent is emitted on deposits and withdrawals.
type PoolEvent struct {
	Asset     string `json:"asset"`
	Provider  string `json:"provider"`
	Kind      string `json:"kind"` // "deposit" or "withdrawal"
	AmountUSD string `json:"amount_usdc"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher writes engine events to Kafka.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish writes one event to a topic, keyed for per-entity ordering.
func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
