// README: Client and orchestrator tests against the real router on an httptest server.
package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/internal/client"
	httptransport "dukani/internal/http"
	"dukani/internal/infra"
	"dukani/internal/modules/delivery"
	"dukani/internal/modules/order"
	"dukani/internal/modules/order/ordertest"
	"dukani/internal/modules/payment"
	"dukani/internal/types"
)

type riders struct{}

var activeRider = delivery.User{ID: "rider-1", Name: "Otieno", Role: types.RoleDelivery, IsActive: true}

func (riders) Get(_ context.Context, id types.ID) (delivery.User, error) {
	if id == activeRider.ID {
		return activeRider, nil
	}
	return delivery.User{}, delivery.ErrUserNotFound
}

func (riders) List(_ context.Context, role types.Role, _ bool) ([]delivery.User, error) {
	if role == types.RoleDelivery {
		return []delivery.User{activeRider}, nil
	}
	return nil, nil
}

func (riders) Save(context.Context, delivery.User) error { return nil }

type noGateway struct{}

func (noGateway) STKPush(context.Context, payment.PushRequest) (payment.PushResponse, error) {
	return payment.PushResponse{}, payment.ErrGateway
}

func (noGateway) QueryStatus(context.Context, string) (payment.QueryResult, error) {
	return payment.QueryResult{}, payment.ErrGateway
}

func newRouter(o *order.Order) http.Handler {
	gin.SetMode(gin.TestMode)
	repo := ordertest.NewRepository()
	repo.Put(o)
	dir := delivery.NewDirectory(riders{}, nil, nil)
	orders := order.NewService(repo, nil, order.WithRiders(dir))
	return httptransport.NewRouter(httptransport.RouterDeps{
		Order:    orders,
		Payment:  payment.NewService(orders, noGateway{}, nil, nil),
		Delivery: delivery.NewService(orders, dir),
		Verifier: infra.NewDevVerifier(),
	})
}

func newServer(t *testing.T, o *order.Order) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(o))
	t.Cleanup(srv.Close)
	return srv
}

// heldServer answers the first GET with the state at arrival but holds the
// response until Release. With releaseOnPost the first POST releases it.
type heldServer struct {
	*httptest.Server
	captured chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (h *heldServer) Release() { h.once.Do(func() { close(h.release) }) }

func newHeldServer(t *testing.T, o *order.Order, releaseOnPost bool) *heldServer {
	t.Helper()
	router := newRouter(o)
	h := &heldServer{captured: make(chan struct{}), release: make(chan struct{})}
	var held atomic.Bool
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && held.CompareAndSwap(false, true) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, r)
			close(h.captured)
			<-h.release
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
			return
		}
		router.ServeHTTP(w, r)
		if r.Method == http.MethodPost && releaseOnPost {
			h.Release()
		}
	}))
	t.Cleanup(func() {
		h.Release()
		h.Close()
	})
	return h
}

func clientFor(srv *httptest.Server, u types.ActingUser) *client.Client {
	return client.New(srv.URL, client.StaticToken(string(u.ID)+":"+string(u.Role)))
}

func TestClient_ErrorsMapToSentinels(t *testing.T) {
	srv := newServer(t, ordertest.TwoVendorOrder())
	ctx := context.Background()

	_, err := clientFor(srv, ordertest.Vendor2).UpdateStatus(ctx, client.StatusRequest{
		OrderID: "order-1", SuborderID: "sub-1", Status: "PROCESSING",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, order.ErrNotPermitted)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "not permitted", apiErr.Message)

	_, err = clientFor(srv, ordertest.Admin).GetOrder(ctx, "missing", "", "")
	assert.ErrorIs(t, err, order.ErrNotFound)

	_, err = clientFor(srv, ordertest.Buyer).PaymentStatus(ctx, "ORD-20260301-NOPE00")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "order not found", apiErr.Message)
}

func TestClient_ValidatesBeforeSending(t *testing.T) {
	c := client.New("http://127.0.0.1:1", nil)
	ctx := context.Background()

	_, err := c.VerifyCode(ctx, "order-1", "sub-1", "short")
	assert.ErrorIs(t, err, order.ErrBadRequest)
	_, err = c.QueryPayment(ctx, "")
	assert.ErrorIs(t, err, payment.ErrBadRequest)
	_, err = c.PaymentStatus(ctx, "ORD-1")
	assert.ErrorIs(t, err, payment.ErrBadRequest)
	_, err = c.InitiatePayment(ctx, payment.InitiateRequest{Phone: "12345", OrderRef: "ORD-20260301-ABC234"})
	assert.ErrorIs(t, err, payment.ErrInvalidPhone)
	_, err = c.Draft(ctx, client.DraftRequest{})
	assert.ErrorIs(t, err, order.ErrBadRequest)
}

func TestClient_ListOrders(t *testing.T) {
	srv := newServer(t, ordertest.TwoVendorOrder())
	ctx := context.Background()

	mine, err := clientFor(srv, ordertest.Buyer).ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, types.ID("order-1"), mine[0].ID)

	vendor, err := clientFor(srv, ordertest.Vendor2).ListOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, vendor, 1)
	require.Len(t, vendor[0].Suborders, 1)
	assert.Equal(t, types.ID("vendor-2"), vendor[0].Suborders[0].VendorID)

	other, err := clientFor(srv, types.ActingUser{ID: "cust-2", Role: types.RoleCustomer}).ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestClient_RiderSurface(t *testing.T) {
	srv := newServer(t, ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubAssigned))
	ctx := context.Background()
	rider := clientFor(srv, ordertest.Rider1)

	_, err := rider.RiderAction(ctx, delivery.RiderActionRequest{OrderID: "order-1", SuborderID: "sub-1", Action: "pickup"})
	require.NoError(t, err)
	a, err := rider.RiderDetails(ctx, "order-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, order.SubPickedUp, a.Status)
	assert.Equal(t, "Otieno", a.Rider.Name)

	list, err := clientFor(srv, ordertest.Admin).ActiveRiders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, err = rider.ActiveRiders(ctx)
	assert.ErrorIs(t, err, order.ErrNotPermitted)
}

func TestOrchestrator_ActionThenRefetch(t *testing.T) {
	srv := newServer(t, ordertest.TwoVendorOrder())
	ctx := context.Background()
	orch := client.NewOrchestrator(clientFor(srv, ordertest.Vendor1), "order-1", ordertest.Vendor1)

	snap, err := orch.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.View.Effective)
	assert.Equal(t, order.SubPending, snap.View.Effective.Status)
	assert.Equal(t, []order.ActionKind{order.ActionProcess, order.ActionReady}, snap.View.Actions)

	after, err := orch.SetStatus(ctx, client.StatusRequest{SuborderID: "sub-1", Status: "PROCESSING"})
	require.NoError(t, err)
	assert.Greater(t, after.Seq, snap.Seq)
	assert.Equal(t, order.SubProcessing, after.View.Effective.Status)
	assert.Equal(t, []order.ActionKind{order.ActionReady}, after.View.Actions)

	// A rejected action still refetches and leaves the mirror usable.
	failed, err := orch.SetStatus(ctx, client.StatusRequest{SuborderID: "sub-1", Status: "PROCESSING"})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Greater(t, failed.Seq, after.Seq)
	assert.Equal(t, order.SubProcessing, failed.View.Effective.Status)
}

func TestOrchestrator_RefetchAfterActionIgnoresEarlierRefresh(t *testing.T) {
	srv := newHeldServer(t, ordertest.TwoVendorOrder(), true)
	ctx := context.Background()
	orch := client.NewOrchestrator(clientFor(srv.Server, ordertest.Vendor1), "order-1", ordertest.Vendor1)

	bg := make(chan error, 1)
	go func() {
		_, err := orch.Refresh(ctx)
		bg <- err
	}()
	<-srv.captured

	after, err := orch.SetStatus(ctx, client.StatusRequest{SuborderID: "sub-1", Status: "PROCESSING"})
	require.NoError(t, err)
	require.NotNil(t, after.View.Effective)
	assert.Equal(t, order.SubProcessing, after.View.Effective.Status)
	assert.Equal(t, []order.ActionKind{order.ActionReady}, after.View.Actions)

	require.NoError(t, <-bg)
	assert.Equal(t, order.SubProcessing, orch.Snapshot().View.Effective.Status)
}

func TestOrchestrator_LateStaleFetchIsDropped(t *testing.T) {
	srv := newHeldServer(t, ordertest.TwoVendorOrder(), false)
	ctx := context.Background()
	orch := client.NewOrchestrator(clientFor(srv.Server, ordertest.Vendor1), "order-1", ordertest.Vendor1)

	bg := make(chan error, 1)
	go func() {
		_, err := orch.Refresh(ctx)
		bg <- err
	}()
	<-srv.captured

	after, err := orch.SetStatus(ctx, client.StatusRequest{SuborderID: "sub-1", Status: "PROCESSING"})
	require.NoError(t, err)
	assert.Equal(t, order.SubProcessing, after.View.Effective.Status)

	// The earlier fetch lands last and still carries PENDING.
	srv.Release()
	require.NoError(t, <-bg)
	snap := orch.Snapshot()
	assert.Equal(t, after.Seq, snap.Seq)
	assert.Equal(t, order.SubProcessing, snap.View.Effective.Status)
	assert.Equal(t, []order.ActionKind{order.ActionReady}, snap.View.Actions)
}

func TestOrchestrator_InFlightGuard(t *testing.T) {
	srv := newServer(t, ordertest.TwoVendorOrder())
	ctx := context.Background()
	orch := client.NewOrchestrator(clientFor(srv, ordertest.Admin), "order-1", ordertest.Admin)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := orch.Dispatch(ctx, "sub-1:ASSIGNED", func(context.Context, *client.Client) error {
			close(started)
			<-release
			return nil
		})
		assert.NoError(t, err)
	}()
	<-started

	assert.True(t, orch.InFlight("sub-1:ASSIGNED"))
	_, err := orch.Dispatch(ctx, "sub-1:ASSIGNED", func(context.Context, *client.Client) error {
		t.Error("duplicate action must not run")
		return nil
	})
	assert.ErrorIs(t, err, client.ErrInFlight)

	ran := false
	_, err = orch.Dispatch(ctx, "sub-2:ASSIGNED", func(context.Context, *client.Client) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "other controls are not blocked")

	close(release)
	wg.Wait()
	assert.False(t, orch.InFlight("sub-1:ASSIGNED"))
}

func TestOrchestrator_ConfirmationRoundTrip(t *testing.T) {
	srv := newServer(t, ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubInTransit))
	ctx := context.Background()
	customer := client.NewOrchestrator(clientFor(srv, ordertest.Buyer), "order-1", ordertest.Buyer)
	rider := client.NewOrchestrator(clientFor(srv, ordertest.Rider1), "order-1", ordertest.Rider1)

	code, snap, err := customer.RequestCode(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, code, order.CodeLength)
	assert.Equal(t, order.SubDelivered, snap.Order.Suborders[0].Status)

	again, _, err := customer.RequestCode(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, code, again, "the code is stable once issued")

	_, err = rider.VerifyCode(ctx, "sub-1", "BADCODE9")
	assert.ErrorIs(t, err, order.ErrInvalidCode)
	snap = rider.Snapshot()
	assert.Equal(t, order.SubDelivered, snap.Order.Suborders[0].Status)
	assert.Nil(t, snap.Order.Suborders[0].Delivery.ConfirmationCode, "riders never see the code")

	snap, err = rider.VerifyCode(ctx, "sub-1", " "+code+" ")
	require.NoError(t, err)
	assert.Equal(t, order.SubConfirmed, snap.Order.Suborders[0].Status)
	assert.Empty(t, snap.View.Actions)

	_, err = rider.VerifyCode(ctx, "sub-1", code)
	assert.ErrorIs(t, err, order.ErrAlreadyConfirmed)
}

func TestOrchestrator_AdminAssign(t *testing.T) {
	srv := newServer(t, ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubReadyForPickup))
	ctx := context.Background()
	orch := client.NewOrchestrator(clientFor(srv, ordertest.Admin), "order-1", ordertest.Admin)

	_, err := orch.Assign(ctx, "sub-1", "rider-1", decimal.Zero)
	assert.ErrorIs(t, err, order.ErrBadRequest)

	snap, err := orch.Assign(ctx, "sub-1", "rider-1", decimal.NewFromInt(250))
	require.NoError(t, err)
	sub := snap.Order.Suborders[0]
	assert.Equal(t, order.SubAssigned, sub.Status)
	require.NotNil(t, sub.Rider)
	assert.Equal(t, types.ID("rider-1"), sub.Rider.ID)

	snap, err = orch.Select("sub-2")
	require.NoError(t, err)
	assert.Equal(t, types.ID("sub-2"), snap.View.Effective.ID)
}
