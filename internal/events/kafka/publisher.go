// Package kafka publishes committed transaction events for downstream
// consumers (reporting, reconciliation). Publishing happens after commit and
// never affects the business mutation.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// TransactionCommitted is the wire event emitted for every ledger mutation.
type TransactionCommitted struct {
	Reference    string          `json:"reference"`
	AccountID    string          `json:"account_id"`
	MemberID     string          `json:"member_id"`
	Type         string          `json:"transaction_type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Publisher writes transaction events to a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds a publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish serialises the event and writes it keyed by reference.
func (p *Publisher) Publish(ctx context.Context, event TransactionCommitted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Reference),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
