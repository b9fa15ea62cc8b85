// README: Role-scoped view of an order: visible data, effective suborder, permitted actions, role-split financials.
package projection

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

// Selection is the suborder the user picked in a list. Empty means none.
type Selection struct {
	SuborderID types.ID
}

// OrderTotals are the customer-facing figures.
type OrderTotals struct {
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	ShippingFee      decimal.Decimal `json:"shippingFee"`
	PlatformFee      decimal.Decimal `json:"platformFee"`
	DeliveryFeeTotal decimal.Decimal `json:"deliveryFeeTotal"`
	Currency         string          `json:"currency"`
}

// Breakdown is the vendor/admin split of one suborder.
type Breakdown struct {
	Amount      decimal.Decimal `json:"amount"`
	Commission  decimal.Decimal `json:"commission"`
	NetAmount   decimal.Decimal `json:"netAmount"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Currency    string          `json:"currency"`
}

type View struct {
	Role       types.Role         `json:"role"`
	OrderID    types.ID           `json:"orderId"`
	OrderRef   string             `json:"orderRef"`
	Status     order.Status       `json:"status"`
	Payment    order.Payment      `json:"payment"`
	Items      []order.LineItem   `json:"items"`
	Suborders  []order.Suborder   `json:"suborders"`
	Effective  *order.Suborder    `json:"effectiveSuborder,omitempty"`
	Selectable bool               `json:"selectable"`
	Actions    []order.ActionKind `json:"actions"`
	// OrderActions are offered to admins when no suborder is selected.
	OrderActions []order.OrderActionKind `json:"orderActions"`
	// CanRequestCode is the customer's only action: ask for the delivery code.
	CanRequestCode bool         `json:"canRequestCode"`
	Totals         *OrderTotals `json:"totals,omitempty"`
	Breakdown      *Breakdown   `json:"breakdown,omitempty"`
	// RiderFee is the delivery fee of the rider's effective suborder.
	RiderFee *decimal.Decimal `json:"riderFee,omitempty"`
}

// CanView reports whether user takes part in o at all.
func CanView(o *order.Order, user types.ActingUser) error {
	switch user.EffectiveRole() {
	case types.RoleAdmin:
		return nil
	case types.RoleCustomer:
		if user.Impersonating() || o.BuyerID == user.ID {
			return nil
		}
	case types.RoleVendor:
		if _, ok := o.SuborderFor(user.ID); ok {
			return nil
		}
	case types.RoleDelivery:
		for i := range o.Suborders {
			if o.Suborders[i].AssignedTo(user.ID) {
				return nil
			}
		}
	}
	return errors.Wrap(order.ErrNotPermitted, "order is not visible to this user")
}

// Project narrows a fetched order for user. Permitted actions are computed
// from the fetched statuses only.
func Project(o *order.Order, user types.ActingUser, sel Selection) (View, error) {
	if err := CanView(o, user); err != nil {
		return View{}, err
	}
	role := user.EffectiveRole()
	red := Redact(o, user)
	v := View{
		Role:      role,
		OrderID:   o.ID,
		OrderRef:  o.OrderID,
		Status:    o.Status,
		Payment:   o.Payment,
		Items:     red.Items,
		Suborders: red.Suborders,
	}

	// idx is the effective suborder's position in o.Suborders, -1 for none.
	idx := -1
	switch role {
	case types.RoleVendor:
		for i := range o.Suborders {
			if o.Suborders[i].VendorID == user.ID {
				idx = i
				break
			}
		}
	case types.RoleDelivery:
		v.Selectable = true
		idx = riderSuborder(o, user.ID, sel)
	case types.RoleAdmin, types.RoleCustomer:
		v.Selectable = true
		idx = selected(o, sel)
	}

	if idx >= 0 {
		full := &o.Suborders[idx]
		v.Effective = findByID(red.Suborders, full.ID)
		switch role {
		case types.RoleCustomer:
			v.CanRequestCode = order.CheckConfirmationRequest(user, o, full) == nil
		case types.RoleAdmin:
			if sel.SuborderID != "" {
				v.Actions = permitted(user, o, full)
			}
		default:
			v.Actions = permitted(user, o, full)
		}
		switch role {
		case types.RoleVendor, types.RoleAdmin:
			v.Breakdown = &Breakdown{
				Amount:      full.Amount,
				Commission:  full.Commission,
				NetAmount:   full.NetAmount,
				DeliveryFee: full.DeliveryFee,
				Currency:    o.Currency,
			}
		case types.RoleDelivery:
			fee := full.DeliveryFee
			v.RiderFee = &fee
		}
	}

	if role == types.RoleCustomer {
		v.Totals = &OrderTotals{
			TotalAmount:      o.TotalAmount,
			ShippingFee:      o.ShippingFee,
			PlatformFee:      o.PlatformFee,
			DeliveryFeeTotal: o.DeliveryFeeTotal,
			Currency:         o.Currency,
		}
	}
	if role == types.RoleAdmin && sel.SuborderID == "" {
		for _, k := range []order.OrderActionKind{order.OrderActionComplete, order.OrderActionCancel} {
			if order.OrderPermits(user, o, k) {
				v.OrderActions = append(v.OrderActions, k)
			}
		}
	}
	return v, nil
}

func permitted(user types.ActingUser, o *order.Order, sub *order.Suborder) []order.ActionKind {
	var out []order.ActionKind
	for _, k := range order.SuborderActions {
		if order.Permits(user, o, sub, k) {
			out = append(out, k)
		}
	}
	return out
}

// selected returns the selected suborder, defaulting to the first one.
func selected(o *order.Order, sel Selection) int {
	if len(o.Suborders) == 0 {
		return -1
	}
	for i := range o.Suborders {
		if o.Suborders[i].ID == sel.SuborderID {
			return i
		}
	}
	return 0
}

// riderSuborder returns the selected suborder if it is assigned to the rider,
// otherwise the rider's first assignment when nothing is selected.
func riderSuborder(o *order.Order, riderID types.ID, sel Selection) int {
	for i := range o.Suborders {
		s := &o.Suborders[i]
		if !s.AssignedTo(riderID) {
			continue
		}
		if sel.SuborderID == "" || s.ID == sel.SuborderID {
			return i
		}
	}
	return -1
}

func findByID(subs []order.Suborder, id types.ID) *order.Suborder {
	for i := range subs {
		if subs[i].ID == id {
			return &subs[i]
		}
	}
	return nil
}

// Redact returns a copy of o carrying only what user's role may see. Admins
// get everything; admins viewing as the customer get the customer copy.
func Redact(o *order.Order, user types.ActingUser) *order.Order {
	c := *o
	c.Items = append([]order.LineItem(nil), o.Items...)
	c.Suborders = append([]order.Suborder(nil), o.Suborders...)

	switch user.EffectiveRole() {
	case types.RoleAdmin:
		return &c
	case types.RoleCustomer:
		for i := range c.Suborders {
			clearBreakdown(&c.Suborders[i])
			c.Suborders[i].DeliveryFee = decimal.Zero
		}
	case types.RoleVendor:
		clearTotals(&c)
		c.Items = o.ItemsFor(user.ID)
		c.Suborders = nil
		if s, ok := o.SuborderFor(user.ID); ok {
			own := *s
			own.Delivery.ConfirmationCode = nil
			c.Suborders = []order.Suborder{own}
		}
	case types.RoleDelivery:
		clearTotals(&c)
		for i := range c.Suborders {
			s := &c.Suborders[i]
			clearBreakdown(s)
			s.Delivery.ConfirmationCode = nil
			if !s.AssignedTo(user.ID) {
				s.DeliveryFee = decimal.Zero
			}
		}
	default:
		clearTotals(&c)
		c.Items = nil
		c.Suborders = nil
	}
	return &c
}

func clearBreakdown(s *order.Suborder) {
	s.Amount = decimal.Zero
	s.Commission = decimal.Zero
	s.NetAmount = decimal.Zero
}

func clearTotals(o *order.Order) {
	o.TotalAmount = decimal.Zero
	o.ShippingFee = decimal.Zero
	o.PlatformFee = decimal.Zero
	o.DeliveryFeeTotal = decimal.Zero
}
