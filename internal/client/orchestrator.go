// README: Local mirror of one order; actions go to the server and are always followed by a refetch.
package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dukani/internal/modules/delivery"
	"dukani/internal/modules/order"
	"dukani/internal/modules/projection"
	"dukani/internal/types"
)

// ErrInFlight is returned when the same action is already running.
var ErrInFlight = errors.New("action already in flight")

// Snapshot is what a view renders: the last applied fetch and its projection.
type Snapshot struct {
	Order *order.Order
	View  projection.View
	// Seq is the fetch sequence that produced this snapshot.
	Seq uint64
}

type Orchestrator struct {
	client  *Client
	orderID types.ID
	user    types.ActingUser
	log     *zap.Logger

	fetches singleflight.Group
	seq     atomic.Uint64

	mu       sync.Mutex
	snap     Snapshot
	sel      projection.Selection
	inFlight map[string]struct{}
}

type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(log *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator mirrors orderID as seen by user. The user must match the
// identity behind the client's token; ViewAs is sent with every request.
func NewOrchestrator(c *Client, orderID types.ID, user types.ActingUser, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:   c,
		orderID:  orderID,
		user:     user,
		log:      zap.NewNop(),
		inFlight: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Refresh refetches the order. Concurrent calls share one request, and a
// fetch that started before the one already applied is discarded.
func (o *Orchestrator) Refresh(ctx context.Context) (Snapshot, error) {
	_, err, _ := o.fetches.Do("order", func() (any, error) {
		return nil, o.fetch(ctx)
	})
	if err != nil {
		return o.Snapshot(), errors.Wrap(err, "refresh order")
	}
	return o.Snapshot(), nil
}

// fetch always issues its own request. Its sequence number is taken before
// the request, so it outranks any fetch already in progress.
func (o *Orchestrator) fetch(ctx context.Context) error {
	seq := o.seq.Add(1)
	res, err := o.client.GetOrder(ctx, o.orderID, o.user.ViewAs, "")
	if err != nil {
		return err
	}
	o.apply(seq, res.Order)
	return nil
}

func (o *Orchestrator) apply(seq uint64, fetched *order.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq <= o.snap.Seq {
		o.log.Debug("stale order fetch dropped", zap.Uint64("seq", seq), zap.Uint64("applied", o.snap.Seq))
		return
	}
	view, err := projection.Project(fetched, o.user, o.sel)
	if err != nil {
		// A selection that no longer exists falls back to none.
		o.sel = projection.Selection{}
		view, err = projection.Project(fetched, o.user, o.sel)
	}
	if err != nil {
		o.log.Warn("order projection failed", zap.String("order_id", string(o.orderID)), zap.Error(err))
		return
	}
	o.snap = Snapshot{Order: fetched, View: view, Seq: seq}
}

// Select picks a suborder in the current mirror and reprojects it locally.
func (o *Orchestrator) Select(suborderID types.ID) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap.Order == nil {
		return o.snap, errors.New("order not loaded")
	}
	sel := projection.Selection{SuborderID: suborderID}
	view, err := projection.Project(o.snap.Order, o.user, sel)
	if err != nil {
		return o.snap, err
	}
	o.sel = sel
	o.snap.View = view
	return o.snap, nil
}

// Dispatch runs call under the in-flight guard for key and then refetches,
// whether or not the call succeeded. The refetch never joins a Refresh that
// started before the call returned. The call's error wins over a refetch error.
func (o *Orchestrator) Dispatch(ctx context.Context, key string, call func(ctx context.Context, c *Client) error) (Snapshot, error) {
	o.mu.Lock()
	if _, busy := o.inFlight[key]; busy {
		o.mu.Unlock()
		return o.Snapshot(), ErrInFlight
	}
	o.inFlight[key] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, key)
		o.mu.Unlock()
	}()

	callErr := call(ctx, o.client)
	if callErr != nil {
		o.log.Info("order action failed", zap.String("order_id", string(o.orderID)), zap.String("action", key), zap.Error(callErr))
	}
	refreshErr := o.fetch(ctx)
	if refreshErr != nil {
		refreshErr = errors.Wrap(refreshErr, "refresh order")
	}
	if callErr != nil {
		return o.Snapshot(), callErr
	}
	return o.Snapshot(), refreshErr
}

// InFlight reports whether the action under key is running.
func (o *Orchestrator) InFlight(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[key]
	return ok
}

// ActionKey names the control for an action on one suborder.
func ActionKey(suborderID types.ID, status string) string {
	return string(suborderID) + ":" + status
}

// SetStatus moves a suborder, or the whole order when suborderID is empty.
func (o *Orchestrator) SetStatus(ctx context.Context, req StatusRequest) (Snapshot, error) {
	req.OrderID = o.orderID
	req.ViewAs = o.user.ViewAs
	return o.Dispatch(ctx, ActionKey(req.SuborderID, req.Status), func(ctx context.Context, c *Client) error {
		_, err := c.UpdateStatus(ctx, req)
		return err
	})
}

func (o *Orchestrator) Assign(ctx context.Context, suborderID, riderID types.ID, fee decimal.Decimal) (Snapshot, error) {
	if !fee.IsPositive() {
		return o.Snapshot(), errors.Wrap(order.ErrBadRequest, "delivery fee must be positive")
	}
	return o.Dispatch(ctx, ActionKey(suborderID, string(order.SubAssigned)), func(ctx context.Context, c *Client) error {
		_, err := c.Assign(ctx, delivery.AssignRequest{
			OrderID:     o.orderID,
			SuborderID:  suborderID,
			RiderID:     riderID,
			DeliveryFee: fee,
		})
		return err
	})
}

// RequestCode asks for the confirmation code and returns it with the
// refreshed snapshot.
func (o *Orchestrator) RequestCode(ctx context.Context, suborderID types.ID) (string, Snapshot, error) {
	var code string
	snap, err := o.Dispatch(ctx, ActionKey(suborderID, "request-code"), func(ctx context.Context, c *Client) error {
		var err error
		code, err = c.RequestCode(ctx, o.orderID, suborderID, o.user.ViewAs)
		return err
	})
	return code, snap, err
}

func (o *Orchestrator) VerifyCode(ctx context.Context, suborderID types.ID, code string) (Snapshot, error) {
	if err := order.ValidateCodeFormat(code); err != nil {
		return o.Snapshot(), err
	}
	return o.Dispatch(ctx, ActionKey(suborderID, string(order.SubConfirmed)), func(ctx context.Context, c *Client) error {
		_, err := c.VerifyCode(ctx, o.orderID, suborderID, code)
		return err
	})
}
