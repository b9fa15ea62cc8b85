// README: In-memory order repository with the same compare-and-swap semantics as the PostgreSQL store.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

type Repository struct {
	mu     sync.Mutex
	orders map[types.ID]*order.Order
	events []order.Event
	nextID int64

	// FailAppend makes AppendEvent return this error when set.
	FailAppend error
}

func NewRepository() *Repository {
	return &Repository{orders: map[types.ID]*order.Order{}}
}

// Put stores o as-is, replacing any existing order with the same id.
func (r *Repository) Put(o *order.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = clone(o)
}

func (r *Repository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = clone(o)
	return nil
}

func (r *Repository) Get(_ context.Context, id types.ID) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return clone(o), nil
}

func (r *Repository) GetByRef(_ context.Context, ref string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderID == ref {
			return clone(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (r *Repository) GetByCheckoutRequest(_ context.Context, checkoutRequestID string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if checkoutRequestID != "" && o.Payment.CheckoutRequestID == checkoutRequestID {
			return clone(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (r *Repository) ListForUser(_ context.Context, user types.ActingUser, limit int) ([]*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*order.Order
	for _, o := range r.orders {
		if visible(o, user) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func visible(o *order.Order, user types.ActingUser) bool {
	switch user.EffectiveRole() {
	case types.RoleAdmin:
		return true
	case types.RoleCustomer:
		return user.Impersonating() || o.BuyerID == user.ID
	case types.RoleVendor:
		_, ok := o.SuborderFor(user.ID)
		return ok
	case types.RoleDelivery:
		for i := range o.Suborders {
			if o.Suborders[i].AssignedTo(user.ID) {
				return true
			}
		}
	}
	return false
}

func (r *Repository) UpdateSuborder(_ context.Context, orderID types.ID, next *order.Suborder, from order.SuborderStatus, version int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, nil
	}
	cur, ok := o.Suborder(next.ID)
	if !ok || cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	*cur = cloneSuborder(*next)
	cur.StatusVersion = version + 1
	o.DeliveryFeeTotal = o.SumDeliveryFees()
	o.UpdatedAt = next.UpdatedAt
	return true, nil
}

func (r *Repository) UpdateOrderStatus(_ context.Context, id types.ID, from, to order.Status, version int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	o.Status = to
	o.StatusVersion++
	o.UpdatedAt = time.Now()
	return true, nil
}

func (r *Repository) CancelOrder(_ context.Context, id types.ID, from order.Status, version int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	o.Status = order.StatusCancelled
	o.StatusVersion++
	for i := range o.Suborders {
		s := &o.Suborders[i]
		if s.Status.Terminal() {
			continue
		}
		s.Status = order.SubCancelled
		s.StatusVersion++
	}
	return true, nil
}

func (r *Repository) UpdatePayment(_ context.Context, id types.ID, p order.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Payment = p
	return nil
}

func (r *Repository) UpdatePayoutStatus(_ context.Context, orderID, suborderID types.ID, st order.PayoutStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	s, ok := o.Suborder(suborderID)
	if !ok {
		return order.ErrNotFound
	}
	s.RiderPayoutStatus = st
	return nil
}

func (r *Repository) AppendEvent(_ context.Context, e *order.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAppend != nil {
		return r.FailAppend
	}
	r.nextID++
	ev := *e
	ev.ID = r.nextID
	r.events = append(r.events, ev)
	return nil
}

// Events returns the recorded audit trail for orderID, oldest first.
func (r *Repository) Events(orderID types.ID) []order.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.Event
	for _, e := range r.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func clone(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.LineItem(nil), o.Items...)
	c.Suborders = make([]order.Suborder, len(o.Suborders))
	for i, s := range o.Suborders {
		c.Suborders[i] = cloneSuborder(s)
	}
	return &c
}

func cloneSuborder(s order.Suborder) order.Suborder {
	if s.Rider != nil {
		r := *s.Rider
		s.Rider = &r
	}
	d := &s.Delivery
	d.EstimatedTime = cloneTime(d.EstimatedTime)
	d.ActualTime = cloneTime(d.ActualTime)
	d.RiderConfirmedAt = cloneTime(d.RiderConfirmedAt)
	if d.ConfirmationCode != nil {
		c := *d.ConfirmationCode
		d.ConfirmationCode = &c
	}
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
