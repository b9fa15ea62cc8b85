// README: Publishes confirmed-delivery payouts to Kafka for the settlement workers.
package payout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dukani/internal/modules/order"
)

const eventType = "payout.scheduled"

// Message is the wire form of a scheduled payout.
type Message struct {
	OrderID     string          `json:"orderId"`
	OrderRef    string          `json:"orderRef"`
	SuborderID  string          `json:"suborderId"`
	VendorID    string          `json:"vendorId"`
	RiderID     string          `json:"riderId"`
	VendorNet   decimal.Decimal `json:"vendorNet"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Currency    string          `json:"currency"`
	ConfirmedAt time.Time       `json:"confirmedAt"`
}

// KafkaScheduler implements order.PayoutScheduler. Messages are keyed by
// suborder id so retries of one payout land on one partition.
type KafkaScheduler struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewKafkaScheduler(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaScheduler{producer: producer, topic: topic, log: log}
}

func (k *KafkaScheduler) Schedule(ctx context.Context, p order.PayoutRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Message{
		OrderID:     string(p.OrderID),
		OrderRef:    p.OrderRef,
		SuborderID:  string(p.SuborderID),
		VendorID:    string(p.VendorID),
		RiderID:     string(p.RiderID),
		VendorNet:   p.VendorNet,
		DeliveryFee: p.DeliveryFee,
		Currency:    p.Currency,
		ConfirmedAt: p.ConfirmedAt.UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encode payout")
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(p.SuborderID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(eventType)},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "publish payout for suborder %s", p.SuborderID)
	}
	k.log.Info("payout scheduled",
		zap.String("suborder_id", string(p.SuborderID)),
		zap.String("topic", k.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// LogScheduler records payouts in the log only; used when Kafka is disabled.
type LogScheduler struct {
	log *zap.Logger
}

func NewLogScheduler(log *zap.Logger) *LogScheduler {
	return &LogScheduler{log: log}
}

func (l *LogScheduler) Schedule(_ context.Context, p order.PayoutRequest) error {
	l.log.Warn("payout not published, kafka disabled",
		zap.String("order_ref", p.OrderRef),
		zap.String("suborder_id", string(p.SuborderID)),
		zap.Stringer("vendor_net", p.VendorNet),
		zap.Stringer("delivery_fee", p.DeliveryFee),
	)
	return nil
}
