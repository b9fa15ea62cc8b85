// README: Participant notices emitted by accepted order changes.
package order

import (
	"context"

	"go.uber.org/zap"

	"dukani/internal/types"
)

type NoticeKind string

const (
	NoticeOrderPaid         NoticeKind = "order_paid"
	NoticeRiderAssigned     NoticeKind = "rider_assigned"
	NoticeOrderDelivered    NoticeKind = "order_delivered"
	NoticeDeliveryConfirmed NoticeKind = "delivery_confirmed"
	NoticeOrderCancelled    NoticeKind = "order_cancelled"
)

// Notice tells one participant that something happened to their order.
// It never carries the confirmation code.
type Notice struct {
	Kind       NoticeKind
	Recipient  types.ID
	Role       types.Role
	OrderID    types.ID
	OrderRef   string
	SuborderID types.ID
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// suborderNotices lists who hears about an accepted suborder effect.
func suborderNotices(o *Order, sub *Suborder, eff Effect) []Notice {
	base := Notice{OrderID: o.ID, OrderRef: o.OrderID, SuborderID: sub.ID}
	var out []Notice
	add := func(kind NoticeKind, to types.ID, role types.Role) {
		if to == "" {
			return
		}
		n := base
		n.Kind, n.Recipient, n.Role = kind, to, role
		out = append(out, n)
	}
	switch eff.Action {
	case ActionAssign:
		add(NoticeRiderAssigned, sub.RiderID(), types.RoleDelivery)
	case ActionDeliver:
		add(NoticeOrderDelivered, o.BuyerID, types.RoleCustomer)
	case ActionConfirm:
		add(NoticeDeliveryConfirmed, sub.VendorID, types.RoleVendor)
	}
	return out
}

// notify is best effort, like the audit trail.
func (s *Service) notify(ctx context.Context, notices ...Notice) {
	if s.notifier == nil {
		return
	}
	for _, n := range notices {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn("notify failed",
				zap.String("kind", string(n.Kind)),
				zap.String("order_id", string(n.OrderID)),
				zap.String("recipient", string(n.Recipient)),
				zap.Error(err),
			)
		}
	}
}
