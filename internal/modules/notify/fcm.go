// README: Push notifications for order events via Firebase Cloud Messaging user topics.
package notify

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

// Sender is the part of the FCM client used here.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCM implements order.Notifier. Each app install subscribes to its user's
// topic, so no device token registry is needed server side.
type FCM struct {
	sender Sender
	log    *zap.Logger
}

func NewFCM(ctx context.Context, app *firebase.App, log *zap.Logger) (*FCM, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase messaging client")
	}
	return NewFCMWithSender(client, log), nil
}

func NewFCMWithSender(sender Sender, log *zap.Logger) *FCM {
	if log == nil {
		log = zap.NewNop()
	}
	return &FCM{sender: sender, log: log}
}

// Topic is the FCM topic a user's devices subscribe to. Characters outside
// the topic alphabet are replaced with '_'.
func Topic(uid types.ID) string {
	var b strings.Builder
	b.WriteString("user-")
	for _, r := range string(uid) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~', r == '%':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var copyFor = map[order.NoticeKind][2]string{
	order.NoticeOrderPaid:         {"New paid order", "Order %s is paid. Start preparing it."},
	order.NoticeRiderAssigned:     {"New delivery", "You have been assigned order %s."},
	order.NoticeOrderDelivered:    {"Your order has arrived", "Open order %s to get your confirmation code."},
	order.NoticeDeliveryConfirmed: {"Delivery confirmed", "Order %s was delivered. Your payout is scheduled."},
	order.NoticeOrderCancelled:    {"Order cancelled", "Order %s has been cancelled."},
}

// Message builds the FCM message for n.
func Message(n order.Notice) (*messaging.Message, error) {
	text, ok := copyFor[n.Kind]
	if !ok {
		return nil, errors.Errorf("unknown notice kind %q", n.Kind)
	}
	if n.Recipient == "" {
		return nil, errors.Errorf("notice %s for order %s has no recipient", n.Kind, n.OrderID)
	}
	return &messaging.Message{
		Topic: Topic(n.Recipient),
		Data: map[string]string{
			"type":        string(n.Kind),
			"order_id":    string(n.OrderID),
			"order_ref":   n.OrderRef,
			"suborder_id": string(n.SuborderID),
			"role":        string(n.Role),
		},
		Notification: &messaging.Notification{
			Title: text[0],
			Body:  fmt.Sprintf(text[1], n.OrderRef),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}, nil
}

func (f *FCM) Notify(ctx context.Context, n order.Notice) error {
	msg, err := Message(n)
	if err != nil {
		return err
	}
	id, err := f.sender.Send(ctx, msg)
	if err != nil {
		return errors.Wrapf(err, "send %s to %s", n.Kind, msg.Topic)
	}
	f.log.Debug("notice sent",
		zap.String("kind", string(n.Kind)),
		zap.String("order_id", string(n.OrderID)),
		zap.String("message_id", id),
	)
	return nil
}

// Log implements order.Notifier by logging; used when push is disabled.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, n order.Notice) error {
	l.log.Info("notice (push disabled)",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", string(n.Recipient)),
		zap.String("order_id", string(n.OrderID)),
	)
	return nil
}
