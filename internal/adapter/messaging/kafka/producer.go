package kafka

import (
	"fmt"

	"marketplace-ledger/config"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// NewSyncProducer connects a producer that waits for every in-sync replica.
func NewSyncProducer(cfg config.KafkaConfig, log zerolog.Logger) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.AuditTopic).
		Msg("Kafka producer established")

	return producer, nil
}
