// README: Kafka sync producer used to publish payout requests.
package infra

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
)

func NewKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Timeout = 5 * time.Second
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	return prod, nil
}
