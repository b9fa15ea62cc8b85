// README: End-to-end route tests over in-memory services with the dev token verifier.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httptransport "dukani/internal/http"
	"dukani/internal/infra"
	"dukani/internal/modules/delivery"
	"dukani/internal/modules/order"
	"dukani/internal/modules/order/ordertest"
	"dukani/internal/modules/payment"
	"dukani/internal/modules/pricing"
	"dukani/internal/types"
)

type userStore map[types.ID]delivery.User

func (s userStore) Get(_ context.Context, id types.ID) (delivery.User, error) {
	u, ok := s[id]
	if !ok {
		return delivery.User{}, delivery.ErrUserNotFound
	}
	return u, nil
}

func (s userStore) List(_ context.Context, role types.Role, activeOnly bool) ([]delivery.User, error) {
	var out []delivery.User
	for _, u := range s {
		if u.Role == role && (!activeOnly || u.IsActive) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s userStore) Save(_ context.Context, u delivery.User) error {
	s[u.ID] = u
	return nil
}

type stubGateway struct{}

func (stubGateway) STKPush(context.Context, payment.PushRequest) (payment.PushResponse, error) {
	return payment.PushResponse{CheckoutRequestID: "ws_CO_9", CustomerMessage: "ok"}, nil
}

func (stubGateway) QueryStatus(context.Context, string) (payment.QueryResult, error) {
	return payment.QueryResult{ResultCode: 0, ResultDesc: "processed"}, nil
}

type commissionStore map[types.ID]decimal.Decimal

func (c commissionStore) CommissionRate(_ context.Context, id types.ID) (decimal.Decimal, bool, error) {
	r, ok := c[id]
	return r, ok, nil
}

func (c commissionStore) SetCommissionRate(_ context.Context, id types.ID, rate decimal.Decimal) error {
	c[id] = rate
	return nil
}

type fixture struct {
	router *gin.Engine
	repo   *ordertest.Repository
}

func newFixture(t *testing.T, o *order.Order) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := ordertest.NewRepository()
	if o != nil {
		repo.Put(o)
	}
	users := userStore{
		"rider-1": {ID: "rider-1", Name: "Otieno", Role: types.RoleDelivery, IsActive: true},
		"rider-9": {ID: "rider-9", Name: "Idle", Role: types.RoleDelivery},
	}
	dir := delivery.NewDirectory(users, nil, nil)
	prices := pricing.NewService(pricing.Rates{
		CommissionRate: decimal.RequireFromString("0.10"),
		ShippingFee:    decimal.NewFromInt(150),
	}, commissionStore{})
	orders := order.NewService(repo, prices, order.WithRiders(dir))
	r := httptransport.NewRouter(httptransport.RouterDeps{
		Order:    orders,
		Payment:  payment.NewService(orders, stubGateway{}, nil, nil),
		Delivery: delivery.NewService(orders, dir),
		Pricing:  prices,
		Verifier: infra.NewDevVerifier(),
	})
	return &fixture{router: r, repo: repo}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, ordertest.TwoVendorOrder())
	w := f.do(t, http.MethodGet, "/api/orders/order-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = f.do(t, http.MethodGet, "/api/orders/order-1", "cust-1:pilot", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDraftThenPay(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/orders/draft", "cust-7:customer", map[string]any{
		"items": []map[string]any{
			{"productId": "p1", "vendorId": "vendor-1", "shopId": "s1", "name": "Kikoi", "price": "500", "quantity": 2},
			{"productId": "p2", "vendorId": "vendor-2", "shopId": "s2", "name": "Mat", "price": "250", "quantity": 1},
		},
		"shipping": map[string]any{"fullName": "Amina", "phone": "0712345678", "address": "Moi Ave", "city": "Nairobi"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	draft := decode[struct {
		AccountReference string          `json:"accountReference"`
		TotalAmount      decimal.Decimal `json:"totalAmount"`
	}](t, w)
	assert.True(t, order.ValidOrderRef(draft.AccountReference))
	assert.True(t, draft.TotalAmount.Equal(decimal.NewFromInt(1400)))

	w = f.do(t, http.MethodPost, "/api/orders/payment", "cust-7:customer", map[string]any{
		"phone": "0712345678", "amount": "1", "orderRef": draft.AccountReference,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "amount")

	w = f.do(t, http.MethodPost, "/api/orders/payment", "cust-7:customer", map[string]any{
		"phone": "0712345678", "amount": "1400", "orderRef": draft.AccountReference,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/payment-status/"+draft.AccountReference, "cust-7:customer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payment.Status{}, decode[payment.Status](t, w))

	w = f.do(t, http.MethodPost, "/api/mpesa/callback", "", map[string]any{
		"Body": map[string]any{"stkCallback": map[string]any{
			"CheckoutRequestID": "ws_CO_9", "ResultCode": 0, "ResultDesc": "ok",
			"CallbackMetadata": map[string]any{"Item": []map[string]any{{"Name": "MpesaReceiptNumber", "Value": "RCP123"}}},
		}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/payment-status/"+draft.AccountReference, "cust-7:customer", nil)
	assert.Equal(t, payment.Status{Paid: true}, decode[payment.Status](t, w))

	w = f.do(t, http.MethodPost, "/api/mpesa/status", "cust-7:customer", map[string]any{})
	res := decode[payment.QueryResult](t, w)
	assert.Equal(t, 1, res.ResultCode)
}

func TestUpdateStatus_FullDeliveryCycle(t *testing.T) {
	f := newFixture(t, ordertest.TwoVendorOrder())

	step := func(token string, body map[string]any, want int) *httptest.ResponseRecorder {
		t.Helper()
		body["orderId"] = "order-1"
		w := f.do(t, http.MethodPost, "/api/orders/update-status", token, body)
		require.Equal(t, want, w.Code, w.Body.String())
		return w
	}

	step("vendor-1:vendor", map[string]any{"suborderId": "sub-1", "status": "PROCESSING"}, http.StatusOK)
	step("vendor-1:vendor", map[string]any{"suborderId": "sub-1", "status": "READY_FOR_PICKUP"}, http.StatusOK)

	w := step("vendor-1:vendor", map[string]any{"suborderId": "sub-1", "status": "ASSIGNED", "riderId": "rider-1", "deliveryFee": "300"}, http.StatusForbidden)
	assert.Equal(t, apiError{Message: "not permitted", Code: "not_permitted"}, decode[apiError](t, w))

	w = step("admin-1:admin", map[string]any{"suborderId": "sub-1", "status": "ASSIGNED", "riderId": "rider-1"}, http.StatusBadRequest)
	assert.Equal(t, "bad_request", decode[apiError](t, w).Code)

	w = f.do(t, http.MethodPost, "/api/delivery/assign", "admin-1:admin", map[string]any{
		"orderId": "order-1", "suborderId": "sub-1", "riderId": "rider-9", "deliveryFee": "300",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "inactive rider")

	w = f.do(t, http.MethodPost, "/api/delivery/assign", "admin-1:admin", map[string]any{
		"orderId": "order-1", "suborderId": "sub-1", "riderId": "rider-1", "deliveryFee": "300",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/delivery/rider", "rider-1:delivery", map[string]any{
		"orderId": "order-1", "suborderId": "sub-1", "action": "pickup", "deliveryPrice": 5000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	step("rider-1:delivery", map[string]any{"suborderId": "sub-1", "status": "IN_TRANSIT"}, http.StatusOK)

	w = f.do(t, http.MethodGet, "/api/delivery/rider/details?orderId=order-1&suborderId=sub-1", "rider-1:delivery", nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[delivery.Assignment](t, w)
	assert.Equal(t, "Otieno", details.Rider.Name)
	assert.True(t, details.DeliveryFee.Equal(decimal.NewFromInt(300)))

	// Customer asks for the code; the suborder becomes DELIVERED.
	w = f.do(t, http.MethodPost, "/api/orders/confirm-delivery", "cust-1:customer", map[string]any{
		"orderId": "order-1", "suborderId": "sub-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	code := decode[map[string]string](t, w)["confirmationCode"]
	require.Len(t, code, 8)

	w = f.do(t, http.MethodPost, "/api/orders/confirm-delivery", "rider-1:delivery", map[string]any{
		"orderId": "order-1", "suborderId": "sub-1", "confirmationCode": "WRONG222",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apiError{Message: "invalid confirmation code", Code: "invalid_code"}, decode[apiError](t, w))

	w = f.do(t, http.MethodPost, "/api/orders/confirm-delivery", "rider-1:delivery", map[string]any{
		"orderId": "order-1", "suborderId": "sub-1", "confirmationCode": code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/orders/confirm-delivery", "rider-1:delivery", map[string]any{
		"orderId": "order-1", "suborderId": "sub-1", "confirmationCode": code,
	})
	assert.Equal(t, "already_confirmed", decode[apiError](t, w).Code)

	// Completion is refused while sub-2 is still open.
	w = step("admin-1:admin", map[string]any{"status": "COMPLETED"}, http.StatusConflict)
	assert.Equal(t, "invalid_transition", decode[apiError](t, w).Code)
}

func TestGetOrder_RoleViews(t *testing.T) {
	o := ordertest.WithCode(ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubDelivered), 0, "SEEN2345")
	f := newFixture(t, o)

	type resp struct {
		Order order.Order `json:"order"`
		View  struct {
			Role    types.Role         `json:"role"`
			Actions []order.ActionKind `json:"actions"`
		} `json:"view"`
	}

	w := f.do(t, http.MethodGet, "/api/orders/order-1", "rider-1:delivery", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rider := decode[resp](t, w)
	assert.Nil(t, rider.Order.Suborders[0].Delivery.ConfirmationCode)
	assert.True(t, rider.Order.TotalAmount.IsZero())
	assert.Equal(t, []order.ActionKind{order.ActionConfirm}, rider.View.Actions)

	w = f.do(t, http.MethodGet, "/api/orders/order-1?viewAs=customer", "admin-1:admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	asCustomer := decode[resp](t, w)
	assert.Equal(t, types.RoleCustomer, asCustomer.View.Role)
	require.NotNil(t, asCustomer.Order.Suborders[0].Delivery.ConfirmationCode)
	assert.True(t, asCustomer.Order.Suborders[0].Commission.IsZero())

	w = f.do(t, http.MethodGet, "/api/orders/order-1", "vendor-2:vendor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	vendor := decode[resp](t, w)
	require.Len(t, vendor.Order.Suborders, 1)
	assert.Equal(t, types.ID("vendor-2"), vendor.Order.Suborders[0].VendorID)

	w = f.do(t, http.MethodGet, "/api/orders/order-1", "cust-2:customer", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, http.MethodGet, "/api/orders/nope", "admin-1:admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsers(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/users?role=delivery&isActive=true", "vendor-1:vendor", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/users?role=delivery&isActive=true", "admin-1:admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[struct {
		Users []delivery.User `json:"users"`
	}](t, w).Users
	require.Len(t, users, 1)
	assert.Equal(t, types.ID("rider-1"), users[0].ID)

	w = f.do(t, http.MethodPost, "/api/users", "admin-1:admin", map[string]any{
		"_id": "rider-3", "name": "Njeri", "role": "delivery", "isActive": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, http.MethodGet, "/api/users?role=delivery&isActive=true", "admin-1:admin", nil)
	assert.Len(t, decode[struct {
		Users []delivery.User `json:"users"`
	}](t, w).Users, 2)
}

func TestCommissionOverride(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/vendors/vendor-1/commission"

	w := f.do(t, http.MethodPut, path, "vendor-1:vendor", map[string]any{"rate": "0.01"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, http.MethodPut, path, "admin-1:admin", map[string]any{"rate": "1.2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPut, path, "admin-1:admin", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, path, "admin-1:admin", map[string]any{"rate": "0.05"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/orders/draft", "cust-7:customer", map[string]any{
		"items": []map[string]any{
			{"productId": "p1", "vendorId": "vendor-1", "shopId": "s1", "name": "Kikoi", "price": "500", "quantity": 2},
			{"productId": "p2", "vendorId": "vendor-2", "shopId": "s2", "name": "Mat", "price": "250", "quantity": 1},
		},
		"shipping": map[string]any{"fullName": "Amina", "phone": "0712345678", "address": "Moi Ave", "city": "Nairobi"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ref := decode[struct {
		AccountReference string `json:"accountReference"`
	}](t, w).AccountReference

	o, err := f.repo.GetByRef(context.Background(), ref)
	require.NoError(t, err)
	byVendor := map[types.ID]decimal.Decimal{}
	for _, sub := range o.Suborders {
		byVendor[sub.VendorID] = sub.Commission
	}
	assert.True(t, byVendor["vendor-1"].Equal(decimal.NewFromInt(50)), byVendor["vendor-1"].String())
	assert.True(t, byVendor["vendor-2"].Equal(decimal.NewFromInt(25)), byVendor["vendor-2"].String())
}
