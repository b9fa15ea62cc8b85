// README: M-PESA payment flow: STK push initiation, callback reconciliation and polled status.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

// Orders is the slice of the order service the payment flow needs.
type Orders interface {
	GetByRef(ctx context.Context, ref string) (*order.Order, error)
	GetByCheckoutRequest(ctx context.Context, checkoutRequestID string) (*order.Order, error)
	MarkPayment(ctx context.Context, ref string, p order.Payment) (*order.Order, error)
}

type Service struct {
	orders  Orders
	gateway Gateway
	cache   StatusCache
	log     *zap.Logger
}

// NewService wires the payment flow. cache may be nil.
func NewService(orders Orders, gateway Gateway, cache StatusCache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{orders: orders, gateway: gateway, cache: cache, log: log}
}

type InitiateRequest struct {
	Phone    string          `json:"phone"`
	Amount   decimal.Decimal `json:"amount"`
	OrderRef string          `json:"orderRef"`
}

type InitiateResult struct {
	CheckoutRequestID string `json:"checkoutRequestID"`
	MerchantRequestID string `json:"merchantRequestID"`
	CustomerMessage   string `json:"customerMessage"`
}

// Initiate sends an STK push for the buyer's unpaid order. The amount must
// match the order total exactly.
func (s *Service) Initiate(ctx context.Context, user types.ActingUser, req InitiateRequest) (InitiateResult, error) {
	if strings.TrimSpace(req.OrderRef) == "" {
		return InitiateResult{}, errors.Wrap(ErrBadRequest, "orderRef is required")
	}
	if !order.ValidOrderRef(req.OrderRef) {
		return InitiateResult{}, errors.Wrapf(ErrBadRequest, "malformed orderRef %q", req.OrderRef)
	}
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return InitiateResult{}, err
	}
	o, err := s.orders.GetByRef(ctx, req.OrderRef)
	if err != nil {
		return InitiateResult{}, err
	}
	if user.Role != types.RoleAdmin && o.BuyerID != user.ID {
		return InitiateResult{}, errors.Wrap(order.ErrNotPermitted, "only the buyer can pay for an order")
	}
	if o.Payment.Status == order.PaymentPaid {
		return InitiateResult{}, ErrAlreadyPaid
	}
	if !req.Amount.Equal(o.TotalAmount) {
		return InitiateResult{}, errors.Wrapf(ErrAmountMismatch, "got %s, order total is %s", req.Amount, o.TotalAmount)
	}

	resp, err := s.gateway.STKPush(ctx, PushRequest{
		Phone: phone,
		// The gateway only accepts whole shillings.
		Amount:     o.TotalAmount.Ceil().IntPart(),
		AccountRef: o.OrderID,
	})
	if err != nil {
		s.log.Error("stk push failed", zap.String("order_ref", o.OrderID), zap.Error(err))
		return InitiateResult{}, err
	}

	if _, err := s.orders.MarkPayment(ctx, o.OrderID, order.Payment{
		Status:            order.PaymentPending,
		CheckoutRequestID: resp.CheckoutRequestID,
	}); err != nil {
		return InitiateResult{}, errors.Wrap(err, "record checkout request")
	}
	if s.cache != nil {
		// A retry after FAILED must not keep serving the old outcome.
		if err := s.cache.Delete(ctx, o.OrderID); err != nil {
			s.log.Warn("payment status cache delete", zap.String("order_ref", o.OrderID), zap.Error(err))
		}
	}
	s.log.Info("stk push sent",
		zap.String("order_ref", o.OrderID),
		zap.String("checkout_request_id", resp.CheckoutRequestID),
	)
	return InitiateResult{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// Status answers a poll for ref, from the cache when the outcome is final.
func (s *Service) Status(ctx context.Context, ref string) (Status, error) {
	if !order.ValidOrderRef(ref) {
		return Status{}, errors.Wrapf(ErrBadRequest, "malformed orderRef %q", ref)
	}
	if s.cache != nil {
		st, err := s.cache.Get(ctx, ref)
		if err != nil {
			s.log.Warn("payment status cache get", zap.String("order_ref", ref), zap.Error(err))
		} else if st != nil {
			return *st, nil
		}
	}
	o, err := s.orders.GetByRef(ctx, ref)
	if err != nil {
		return Status{}, err
	}
	st := statusOf(o.Payment.Status)
	s.remember(ctx, ref, st)
	return st, nil
}

func statusOf(p order.PaymentStatus) Status {
	switch p {
	case order.PaymentPaid:
		return Status{Paid: true}
	case order.PaymentFailed:
		return Status{Status: "FAILED"}
	default:
		return Status{}
	}
}

func (s *Service) remember(ctx context.Context, ref string, st Status) {
	if s.cache == nil || !st.Terminal() {
		return
	}
	if err := s.cache.Set(ctx, ref, st); err != nil {
		s.log.Warn("payment status cache set", zap.String("order_ref", ref), zap.Error(err))
	}
}

// CallbackItem is one CallbackMetadata entry; Value is a number or a string.
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

// CallbackPayload is the body the gateway posts to the callback URL.
type CallbackPayload struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// Receipt returns the MpesaReceiptNumber item, if any.
func (c STKCallback) Receipt() string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, it := range c.CallbackMetadata.Item {
		if it.Name == "MpesaReceiptNumber" && it.Value != nil {
			return fmt.Sprint(it.Value)
		}
	}
	return ""
}

// Callback is a prompt to reconcile, not a result. The posted outcome is not
// trusted: the order only changes on what a gateway query reports.
func (s *Service) Callback(ctx context.Context, p CallbackPayload) error {
	cb := p.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return errors.Wrap(ErrBadRequest, "callback without CheckoutRequestID")
	}
	o, err := s.orders.GetByCheckoutRequest(ctx, cb.CheckoutRequestID)
	if err != nil {
		return errors.Wrapf(err, "callback for %s", cb.CheckoutRequestID)
	}
	res, err := s.gateway.QueryStatus(ctx, cb.CheckoutRequestID)
	if err != nil {
		return errors.Wrapf(err, "confirm callback for %s", cb.CheckoutRequestID)
	}
	log := s.log.With(
		zap.String("order_ref", o.OrderID),
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.Int("callback_result_code", cb.ResultCode),
		zap.Int("gateway_result_code", res.ResultCode),
	)
	if res.Pending {
		log.Warn("payment callback not confirmed by gateway")
		return nil
	}
	if res.ResultCode != cb.ResultCode {
		log.Warn("payment callback disagrees with gateway")
	}
	var receipt string
	if cb.ResultCode == 0 {
		receipt = cb.Receipt()
	}
	if err := s.reconcile(ctx, o, cb.CheckoutRequestID, res, receipt); err != nil {
		return err
	}
	log.Info("payment callback", zap.String("result_desc", res.ResultDesc))
	return nil
}

// Query asks the gateway about a checkout request and reconciles a final
// answer onto the order. Unknown checkout ids are still answered.
func (s *Service) Query(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	if checkoutRequestID == "" {
		return QueryResult{ResultCode: 1, ResultDesc: "checkoutRequestID is required"}, nil
	}
	res, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		return QueryResult{}, err
	}
	if res.Pending {
		return res, nil
	}
	o, err := s.orders.GetByCheckoutRequest(ctx, checkoutRequestID)
	if errors.Is(err, order.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return QueryResult{}, err
	}
	if err := s.reconcile(ctx, o, checkoutRequestID, res, ""); err != nil {
		return QueryResult{}, err
	}
	return res, nil
}

// reconcile records a final gateway answer on the order.
func (s *Service) reconcile(ctx context.Context, o *order.Order, checkoutRequestID string, res QueryResult, receipt string) error {
	next := order.Payment{Status: order.PaymentFailed, CheckoutRequestID: checkoutRequestID}
	if res.ResultCode == 0 {
		next.Status = order.PaymentPaid
		next.MpesaTransaction = receipt
	}
	updated, err := s.orders.MarkPayment(ctx, o.OrderID, next)
	if err != nil {
		return err
	}
	s.remember(ctx, o.OrderID, statusOf(updated.Payment.Status))
	return nil
}
