// README: Delivery surface: admin assignment, rider actions and assignment details over the order authority.
package delivery

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

// Orders is the order service surface used by delivery endpoints.
type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	Transition(ctx context.Context, user types.ActingUser, orderID, suborderID types.ID, a order.Action) (*order.Order, error)
}

type Service struct {
	orders Orders
	dir    *Directory
}

func NewService(orders Orders, dir *Directory) *Service {
	return &Service{orders: orders, dir: dir}
}

func (s *Service) Directory() *Directory { return s.dir }

type AssignRequest struct {
	OrderID     types.ID        `json:"orderId"`
	SuborderID  types.ID        `json:"suborderId"`
	RiderID     types.ID        `json:"riderId"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
}

// Assign hands a ready suborder to a rider. Rider and fee are validated
// and applied together by the order authority.
func (s *Service) Assign(ctx context.Context, user types.ActingUser, req AssignRequest) (*order.Order, error) {
	if req.OrderID == "" || req.SuborderID == "" {
		return nil, errors.Wrap(order.ErrBadRequest, "orderId and suborderId are required")
	}
	return s.orders.Transition(ctx, user, req.OrderID, req.SuborderID, order.Assign{
		RiderID:     req.RiderID,
		DeliveryFee: req.DeliveryFee,
	})
}

// RiderActionRequest is the body of the older rider endpoint. DeliveryPrice
// is accepted for compatibility and ignored; fees are set at assignment.
type RiderActionRequest struct {
	OrderID       types.ID         `json:"orderId"`
	SuborderID    types.ID         `json:"suborderId"`
	Action        string           `json:"action"`
	DeliveryPrice *decimal.Decimal `json:"deliveryPrice,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// ParseRiderAction maps the rider endpoint's action names onto order actions.
func ParseRiderAction(name, notes string) (order.Action, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pickup", "picked_up":
		return order.Pickup{Notes: notes}, nil
	case "in_transit", "transit":
		return order.Transit{Notes: notes}, nil
	case "deliver", "delivered":
		return order.Deliver{Notes: notes}, nil
	}
	return nil, errors.Wrapf(order.ErrBadRequest, "unknown rider action %q", name)
}

func (s *Service) RiderAction(ctx context.Context, user types.ActingUser, req RiderActionRequest) (*order.Order, error) {
	if req.OrderID == "" || req.SuborderID == "" {
		return nil, errors.Wrap(order.ErrBadRequest, "orderId and suborderId are required")
	}
	a, err := ParseRiderAction(req.Action, req.Notes)
	if err != nil {
		return nil, err
	}
	return s.orders.Transition(ctx, user, req.OrderID, req.SuborderID, a)
}

// Assignment returns the rider's view of one delivery. Only the assigned
// rider and admins may read it; the confirmation code is never included.
func (s *Service) Assignment(ctx context.Context, user types.ActingUser, orderID, suborderID types.ID) (Assignment, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Assignment{}, err
	}
	sub, ok := o.Suborder(suborderID)
	if !ok {
		return Assignment{}, errors.Wrapf(order.ErrNotFound, "suborder %s", suborderID)
	}
	switch user.Role {
	case types.RoleAdmin:
	case types.RoleDelivery:
		if !sub.AssignedTo(user.ID) {
			return Assignment{}, errors.Wrap(order.ErrNotPermitted, "delivery is not assigned to you")
		}
	default:
		return Assignment{}, errors.Wrap(order.ErrNotPermitted, "rider details are for riders")
	}

	a := Assignment{
		OrderID:       o.ID,
		OrderRef:      o.OrderID,
		SuborderID:    sub.ID,
		Status:        sub.Status,
		Items:         o.ItemsFor(sub.VendorID),
		Delivery:      sub.Delivery,
		DeliveryFee:   sub.DeliveryFee,
		PayoutStatus:  sub.RiderPayoutStatus,
		CustomerName:  o.Shipping.FullName,
		CustomerPhone: o.Shipping.Phone,
	}
	a.Delivery.ConfirmationCode = nil
	if sub.Rider != nil {
		a.Rider, err = s.dir.Resolve(ctx, *sub.Rider)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return Assignment{}, err
		}
		if err != nil {
			// The directory entry is gone; the id is still meaningful.
			a.Rider = RiderDetail{ID: sub.Rider.ID}
		}
	}
	for _, k := range []order.ActionKind{order.ActionPickup, order.ActionTransit, order.ActionDeliver, order.ActionConfirm} {
		if order.Permits(user, o, sub, k) {
			a.Actions = append(a.Actions, k)
		}
	}
	return a, nil
}
