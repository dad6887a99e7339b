package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/IBM/sarama"
)

// AuditPublisher implements ports.AuditPublisher. Entries are keyed by
// resource so every event about one withdrawal or invoice lands on the same
// partition in commit order.
type AuditPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewAuditPublisher creates a publisher writing to topic.
func NewAuditPublisher(producer sarama.SyncProducer, topic string) *AuditPublisher {
	return &AuditPublisher{producer: producer, topic: topic}
}

// Publish sends entries as one batch.
func (p *AuditPublisher) Publish(ctx context.Context, entries []domain.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(entries))
	for _, e := range entries {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(e.ResourceType + ":" + e.ResourceID),
			Value: sarama.ByteEncoder(body),
			Headers: []sarama.RecordHeader{
				{Key: []byte("action"), Value: []byte(e.Action)},
			},
			Timestamp: e.CreatedAt,
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish audit entries: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying producer.
func (p *AuditPublisher) Close() error {
	return p.producer.Close()
}
