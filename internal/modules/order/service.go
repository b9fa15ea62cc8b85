// README: Order service applies authorized transitions with optimistic concurrency and audit events.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dukani/internal/modules/pricing"
	"dukani/internal/types"
)

// Repository persists orders. Update methods are compare-and-swap: they
// return false when the row no longer matches the expected status and version.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	GetByRef(ctx context.Context, ref string) (*Order, error)
	GetByCheckoutRequest(ctx context.Context, checkoutRequestID string) (*Order, error)
	ListForUser(ctx context.Context, user types.ActingUser, limit int) ([]*Order, error)
	UpdateSuborder(ctx context.Context, orderID types.ID, next *Suborder, from SuborderStatus, version int) (bool, error)
	UpdateOrderStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error)
	CancelOrder(ctx context.Context, id types.ID, from Status, version int) (bool, error)
	UpdatePayment(ctx context.Context, id types.ID, p Payment) error
	UpdatePayoutStatus(ctx context.Context, orderID, suborderID types.ID, st PayoutStatus) error
	AppendEvent(ctx context.Context, e *Event) error
}

type Pricing interface {
	Quote(ctx context.Context, lines []pricing.Line) (pricing.Quote, error)
}

// PayoutRequest is handed to the payout scheduler once a delivery is confirmed.
type PayoutRequest struct {
	OrderID     types.ID
	OrderRef    string
	SuborderID  types.ID
	VendorID    types.ID
	RiderID     types.ID
	VendorNet   decimal.Decimal
	DeliveryFee decimal.Decimal
	Currency    string
	ConfirmedAt time.Time
}

type PayoutScheduler interface {
	Schedule(ctx context.Context, p PayoutRequest) error
}

// RiderChecker reports whether id belongs to an active delivery user.
type RiderChecker interface {
	IsActiveRider(ctx context.Context, id types.ID) (bool, error)
}

type ETAEstimator interface {
	EstimateDuration(ctx context.Context, origin, destination string) (time.Duration, error)
}

type Service struct {
	store    Repository
	pricing  Pricing
	payouts  PayoutScheduler
	riders   RiderChecker
	eta      ETAEstimator
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	newCode  func() (string, error)
}

type Option func(*Service)

func WithPayouts(p PayoutScheduler) Option { return func(s *Service) { s.payouts = p } }
func WithRiders(r RiderChecker) Option     { return func(s *Service) { s.riders = r } }
func WithETA(e ETAEstimator) Option        { return func(s *Service) { s.eta = e } }
func WithLogger(l *zap.Logger) Option      { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

func NewService(store Repository, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		store:   store,
		pricing: pricing,
		log:     zap.NewNop(),
		now:     time.Now,
		newCode: GenerateCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// maxSyncAttempts bounds the re-read loop that derives the order status.
const maxSyncAttempts = 3

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByRef(ctx context.Context, ref string) (*Order, error) {
	return s.store.GetByRef(ctx, ref)
}

func (s *Service) GetByCheckoutRequest(ctx context.Context, checkoutRequestID string) (*Order, error) {
	return s.store.GetByCheckoutRequest(ctx, checkoutRequestID)
}

// List returns the orders visible to user, newest first.
func (s *Service) List(ctx context.Context, user types.ActingUser, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListForUser(ctx, user, limit)
}

// CreateDraft prices the cart and stores a PENDING order awaiting payment.
func (s *Service) CreateDraft(ctx context.Context, cmd DraftCommand) (*Order, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	if s.pricing == nil {
		return nil, errors.New("pricing is not configured")
	}
	groups := groupByVendor(cmd.Items)
	lines := make([]pricing.Line, 0, len(groups))
	for _, g := range groups {
		sum := decimal.Zero
		for _, it := range g.items {
			sum = sum.Add(it.Subtotal())
		}
		lines = append(lines, pricing.Line{VendorID: g.vendorID, Subtotal: sum})
	}
	q, err := s.pricing.Quote(ctx, lines)
	if err != nil {
		return nil, errors.Wrap(err, "quote")
	}
	now := s.now()
	ref, err := NewOrderRef(now)
	if err != nil {
		return nil, err
	}
	o := buildDraft(cmd, groups, q, now, ref)
	if err := s.store.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.appendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: "",
		ToStatus:   string(StatusPending),
		ActorType:  types.RoleCustomer,
		ActorID:    &cmd.BuyerID,
		CreatedAt:  now,
	})
	s.log.Info("order drafted",
		zap.String("order_id", string(o.ID)),
		zap.String("order_ref", o.OrderID),
		zap.Int("suborders", len(o.Suborders)),
		zap.Stringer("total", o.TotalAmount),
	)
	return o, nil
}

// Transition applies a suborder action on behalf of user and returns the
// refreshed order. Losing a concurrent race yields ErrConflict.
func (s *Service) Transition(ctx context.Context, user types.ActingUser, orderID, suborderID types.ID, a Action) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sub, ok := o.Suborder(suborderID)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "suborder %s", suborderID)
	}

	eff, err := Decide(user, o, sub, a)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			s.log.Warn("confirmation code mismatch",
				zap.String("order_id", string(orderID)),
				zap.String("suborder_id", string(suborderID)),
				zap.String("rider_id", string(user.ID)),
			)
		}
		return nil, err
	}
	if eff.Rider != nil {
		if err := s.checkRider(ctx, eff.Rider.ID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	next, err := eff.Apply(*sub, now, s.newCode)
	if err != nil {
		return nil, err
	}
	if eff.Rider != nil {
		s.fillETA(ctx, &next, now)
	}

	won, err := s.store.UpdateSuborder(ctx, o.ID, &next, sub.Status, sub.StatusVersion)
	if err != nil {
		return nil, errors.Wrap(err, "update suborder")
	}
	if !won {
		return nil, ErrConflict
	}
	s.appendEvent(ctx, &Event{
		OrderID:    o.ID,
		SuborderID: &next.ID,
		FromStatus: string(eff.From),
		ToStatus:   string(eff.To),
		ActorType:  user.Role,
		ActorID:    &user.ID,
		CreatedAt:  now,
	})
	s.log.Info("suborder transitioned",
		zap.String("order_id", string(o.ID)),
		zap.String("suborder_id", string(next.ID)),
		zap.String("action", string(eff.Action)),
		zap.String("from", string(eff.From)),
		zap.String("to", string(eff.To)),
		zap.String("actor", string(user.ID)),
	)

	if eff.SchedulePayout {
		s.schedulePayout(ctx, o, &next, now)
	}
	s.notify(ctx, suborderNotices(o, &next, eff)...)
	return s.syncOrderStatus(ctx, o.ID, user)
}

// TransitionOrder applies an order-level admin action. Cancelling an order
// cancels every suborder that is not already CONFIRMED or CANCELLED.
func (s *Service) TransitionOrder(ctx context.Context, user types.ActingUser, orderID types.ID, a OrderAction) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	to, err := DecideOrder(user, o, a)
	if err != nil {
		return nil, err
	}

	var won bool
	switch to {
	case StatusCancelled:
		won, err = s.store.CancelOrder(ctx, o.ID, o.Status, o.StatusVersion)
	default:
		won, err = s.store.UpdateOrderStatus(ctx, o.ID, o.Status, to, o.StatusVersion)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	if !won {
		return nil, ErrConflict
	}
	now := s.now()
	s.appendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: string(o.Status),
		ToStatus:   string(to),
		ActorType:  user.Role,
		ActorID:    &user.ID,
		CreatedAt:  now,
	})
	if to == StatusCancelled {
		for _, sub := range o.Suborders {
			if sub.Status.Terminal() {
				continue
			}
			id := sub.ID
			s.appendEvent(ctx, &Event{
				OrderID:    o.ID,
				SuborderID: &id,
				FromStatus: string(sub.Status),
				ToStatus:   string(SubCancelled),
				ActorType:  user.Role,
				ActorID:    &user.ID,
				CreatedAt:  now,
			})
		}
	}
	if to == StatusCancelled {
		s.notify(ctx, Notice{
			Kind: NoticeOrderCancelled, Recipient: o.BuyerID, Role: types.RoleCustomer,
			OrderID: o.ID, OrderRef: o.OrderID,
		})
	}
	s.log.Info("order transitioned",
		zap.String("order_id", string(o.ID)),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
		zap.String("actor", string(user.ID)),
	)
	return s.store.Get(ctx, o.ID)
}

// RequestConfirmation discloses the delivery confirmation code to the
// customer. From IN_TRANSIT the suborder moves to DELIVERED and a code is
// issued. From DELIVERED the existing code is returned, or issued if missing.
func (s *Service) RequestConfirmation(ctx context.Context, user types.ActingUser, orderID, suborderID types.ID) (string, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	sub, ok := o.Suborder(suborderID)
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "suborder %s", suborderID)
	}
	if err := CheckConfirmationRequest(user, o, sub); err != nil {
		return "", err
	}
	if sub.Status == SubDelivered && sub.Delivery.ConfirmationCode != nil {
		return *sub.Delivery.ConfirmationCode, nil
	}

	now := s.now()
	eff := Effect{
		Action:        ActionDeliver,
		From:          sub.Status,
		To:            SubDelivered,
		GenerateCode:  true,
		MarkDelivered: sub.Status == SubInTransit,
	}
	next, err := eff.Apply(*sub, now, s.newCode)
	if err != nil {
		return "", err
	}
	won, err := s.store.UpdateSuborder(ctx, o.ID, &next, sub.Status, sub.StatusVersion)
	if err != nil {
		return "", errors.Wrap(err, "update suborder")
	}
	if !won {
		return "", ErrConflict
	}
	s.appendEvent(ctx, &Event{
		OrderID:    o.ID,
		SuborderID: &next.ID,
		FromStatus: string(eff.From),
		ToStatus:   string(eff.To),
		ActorType:  types.RoleCustomer,
		ActorID:    &user.ID,
		CreatedAt:  now,
	})
	s.log.Info("confirmation code issued",
		zap.String("order_id", string(o.ID)),
		zap.String("suborder_id", string(next.ID)),
		zap.Bool("impersonated", user.Impersonating()),
	)
	if _, err := s.syncOrderStatus(ctx, o.ID, user); err != nil {
		s.log.Warn("order status sync failed", zap.String("order_id", string(o.ID)), zap.Error(err))
	}
	return *next.Delivery.ConfirmationCode, nil
}

// VerifyConfirmation is the rider submitting the code read from the customer.
func (s *Service) VerifyConfirmation(ctx context.Context, user types.ActingUser, orderID, suborderID types.ID, code string) (*Order, error) {
	return s.Transition(ctx, user, orderID, suborderID, Confirm{Code: code})
}

// MarkPayment records the gateway outcome for the order with reference ref.
func (s *Service) MarkPayment(ctx context.Context, ref string, p Payment) (*Order, error) {
	o, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.Payment.Status == PaymentPaid && p.Status != PaymentRefunded {
		// The gateway may deliver callbacks more than once.
		return o, nil
	}
	merged := o.Payment
	merged.Status = p.Status
	if p.MpesaTransaction != "" {
		merged.MpesaTransaction = p.MpesaTransaction
	}
	if p.CheckoutRequestID != "" {
		merged.CheckoutRequestID = p.CheckoutRequestID
	}
	if err := s.store.UpdatePayment(ctx, o.ID, merged); err != nil {
		return nil, errors.Wrap(err, "update payment")
	}
	if merged.Status != o.Payment.Status {
		s.log.Info("payment status changed",
			zap.String("order_ref", ref),
			zap.String("from", string(o.Payment.Status)),
			zap.String("to", string(merged.Status)),
		)
	}
	if merged.Status == PaymentPaid && o.Payment.Status != PaymentPaid {
		for _, sub := range o.Suborders {
			s.notify(ctx, Notice{
				Kind: NoticeOrderPaid, Recipient: sub.VendorID, Role: types.RoleVendor,
				OrderID: o.ID, OrderRef: o.OrderID, SuborderID: sub.ID,
			})
		}
	}
	o.Payment = merged
	return o, nil
}

func (s *Service) checkRider(ctx context.Context, id types.ID) error {
	if s.riders == nil {
		return nil
	}
	active, err := s.riders.IsActiveRider(ctx, id)
	if err != nil {
		return errors.Wrap(err, "lookup rider")
	}
	if !active {
		return errors.Wrapf(ErrBadRequest, "%s is not an active delivery user", id)
	}
	return nil
}

func (s *Service) fillETA(ctx context.Context, sub *Suborder, now time.Time) {
	if s.eta == nil || sub.Delivery.PickupAddress == "" || sub.Delivery.DropoffAddress == "" {
		return
	}
	d, err := s.eta.EstimateDuration(ctx, sub.Delivery.PickupAddress, sub.Delivery.DropoffAddress)
	if err != nil {
		s.log.Warn("eta estimate failed", zap.String("suborder_id", string(sub.ID)), zap.Error(err))
		return
	}
	eta := now.Add(d)
	sub.Delivery.EstimatedTime = &eta
}

// schedulePayout runs only for the caller whose CONFIRMED write won, so a
// payout is requested at most once per suborder. Failures park the payout.
func (s *Service) schedulePayout(ctx context.Context, o *Order, sub *Suborder, now time.Time) {
	if s.payouts == nil {
		return
	}
	req := PayoutRequest{
		OrderID:     o.ID,
		OrderRef:    o.OrderID,
		SuborderID:  sub.ID,
		VendorID:    sub.VendorID,
		RiderID:     sub.RiderID(),
		VendorNet:   sub.NetAmount,
		DeliveryFee: sub.DeliveryFee,
		Currency:    o.Currency,
		ConfirmedAt: now,
	}
	if err := s.payouts.Schedule(ctx, req); err != nil {
		s.log.Error("schedule payout failed",
			zap.String("order_id", string(o.ID)),
			zap.String("suborder_id", string(sub.ID)),
			zap.Error(err),
		)
		if err := s.store.UpdatePayoutStatus(ctx, o.ID, sub.ID, PayoutHold); err != nil {
			s.log.Error("hold payout failed", zap.String("suborder_id", string(sub.ID)), zap.Error(err))
		}
	}
}

// syncOrderStatus re-derives the order status after a suborder change. A
// concurrent writer may bump the version; the loop re-reads and retries.
func (s *Service) syncOrderStatus(ctx context.Context, id types.ID, user types.ActingUser) (*Order, error) {
	for i := 0; i < maxSyncAttempts; i++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		want := Derive(o)
		if want == o.Status {
			return o, nil
		}
		won, err := s.store.UpdateOrderStatus(ctx, id, o.Status, want, o.StatusVersion)
		if err != nil {
			return nil, errors.Wrap(err, "sync order status")
		}
		if won {
			s.appendEvent(ctx, &Event{
				OrderID:    id,
				FromStatus: string(o.Status),
				ToStatus:   string(want),
				ActorType:  user.Role,
				ActorID:    &user.ID,
				CreatedAt:  s.now(),
			})
			return s.store.Get(ctx, id)
		}
	}
	s.log.Warn("order status sync gave up", zap.String("order_id", string(id)))
	return s.store.Get(ctx, id)
}

// appendEvent is best effort; the audit trail never fails a transition.
func (s *Service) appendEvent(ctx context.Context, e *Event) {
	if err := s.store.AppendEvent(ctx, e); err != nil {
		s.log.Warn("append order event failed", zap.String("order_id", string(e.OrderID)), zap.Error(err))
	}
}
