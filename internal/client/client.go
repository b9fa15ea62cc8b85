// README: Typed HTTP client for the order, payment and delivery endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"dukani/internal/modules/delivery"
	"dukani/internal/modules/order"
	"dukani/internal/modules/payment"
	"dukani/internal/modules/projection"
	"dukani/internal/types"
)

// TokenSource returns the bearer token for the next request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// APIError is a non-2xx response. Unwrap yields the order sentinel for the
// response code, so callers can use errors.Is(err, order.ErrInvalidCode).
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return order.CodeError(e.Code)
}

type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, token TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return errors.Wrap(err, "token")
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		apiErr := &APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Message}
		if apiErr.Message == "" {
			apiErr.Message = eb.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

type DraftRequest struct {
	Items         []order.LineItem `json:"items"`
	Shipping      order.Address    `json:"shipping"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
}

type DraftResult struct {
	AccountReference string          `json:"accountReference"`
	OrderID          types.ID        `json:"orderId"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Currency         string          `json:"currency"`
	Order            *order.Order    `json:"order"`
}

func (c *Client) Draft(ctx context.Context, req DraftRequest) (DraftResult, error) {
	if len(req.Items) == 0 {
		return DraftResult{}, errors.Wrap(order.ErrBadRequest, "cart is empty")
	}
	var res DraftResult
	err := c.do(ctx, http.MethodPost, "/api/orders/draft", req, &res)
	return res, err
}

// OrderView is the fetched order together with the server's projection.
type OrderView struct {
	Order *order.Order    `json:"order"`
	View  projection.View `json:"view"`
}

// GetOrder fetches one order. viewAs and suborderID may be empty.
func (c *Client) GetOrder(ctx context.Context, id types.ID, viewAs types.Role, suborderID types.ID) (OrderView, error) {
	q := url.Values{}
	if viewAs != "" {
		q.Set("viewAs", string(viewAs))
	}
	if suborderID != "" {
		q.Set("suborderId", string(suborderID))
	}
	path := "/api/orders/" + url.PathEscape(string(id))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res OrderView
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return OrderView{}, err
	}
	if res.Order == nil {
		return OrderView{}, errors.New("response has no order")
	}
	return res, nil
}

func (c *Client) ListOrders(ctx context.Context, limit int) ([]*order.Order, error) {
	path := "/api/orders"
	if limit > 0 {
		path += "?limit=" + fmt.Sprint(limit)
	}
	var res struct {
		Orders []*order.Order `json:"orders"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res.Orders, err
}

// StatusRequest is the update-status body. Leave SuborderID empty for
// order-level actions.
type StatusRequest struct {
	OrderID          types.ID         `json:"orderId"`
	SuborderID       types.ID         `json:"suborderId,omitempty"`
	Status           string           `json:"status"`
	RiderID          types.ID         `json:"riderId,omitempty"`
	DeliveryFee      *decimal.Decimal `json:"deliveryFee,omitempty"`
	ViewAs           types.Role       `json:"viewAs,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	ConfirmationCode string           `json:"confirmationCode,omitempty"`
	Reason           string           `json:"reason,omitempty"`
}

type mutationResult struct {
	Message string       `json:"message"`
	Order   *order.Order `json:"order"`
}

func (c *Client) UpdateStatus(ctx context.Context, req StatusRequest) (*order.Order, error) {
	if req.OrderID == "" || req.Status == "" {
		return nil, errors.Wrap(order.ErrBadRequest, "orderId and status are required")
	}
	var res mutationResult
	if err := c.do(ctx, http.MethodPost, "/api/orders/update-status", req, &res); err != nil {
		return nil, err
	}
	return res.Order, nil
}

type confirmRequest struct {
	OrderID          types.ID   `json:"orderId"`
	SuborderID       types.ID   `json:"suborderId"`
	ConfirmationCode string     `json:"confirmationCode,omitempty"`
	ViewAs           types.Role `json:"viewAs,omitempty"`
}

// RequestCode asks for the delivery confirmation code as the customer.
func (c *Client) RequestCode(ctx context.Context, orderID, suborderID types.ID, viewAs types.Role) (string, error) {
	var res struct {
		ConfirmationCode string `json:"confirmationCode"`
	}
	err := c.do(ctx, http.MethodPost, "/api/orders/confirm-delivery", confirmRequest{
		OrderID: orderID, SuborderID: suborderID, ViewAs: viewAs,
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ConfirmationCode == "" {
		return "", errors.New("response has no confirmation code")
	}
	return res.ConfirmationCode, nil
}

// VerifyCode submits the code the rider collected. Malformed codes are
// rejected before any request is made.
func (c *Client) VerifyCode(ctx context.Context, orderID, suborderID types.ID, code string) (*order.Order, error) {
	if err := order.ValidateCodeFormat(code); err != nil {
		return nil, err
	}
	var res mutationResult
	err := c.do(ctx, http.MethodPost, "/api/orders/confirm-delivery", confirmRequest{
		OrderID: orderID, SuborderID: suborderID, ConfirmationCode: order.NormalizeCode(code),
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (c *Client) InitiatePayment(ctx context.Context, req payment.InitiateRequest) (payment.InitiateResult, error) {
	phone, err := payment.NormalizePhone(req.Phone)
	if err != nil {
		return payment.InitiateResult{}, err
	}
	req.Phone = phone
	var res payment.InitiateResult
	err = c.do(ctx, http.MethodPost, "/api/orders/payment", req, &res)
	return res, err
}

func (c *Client) PaymentStatus(ctx context.Context, ref string) (payment.Status, error) {
	if !order.ValidOrderRef(ref) {
		return payment.Status{}, errors.Wrapf(payment.ErrBadRequest, "malformed order reference %q", ref)
	}
	var st payment.Status
	err := c.do(ctx, http.MethodGet, "/api/payment-status/"+url.PathEscape(ref), nil, &st)
	return st, err
}

func (c *Client) QueryPayment(ctx context.Context, checkoutRequestID string) (payment.QueryResult, error) {
	if checkoutRequestID == "" {
		return payment.QueryResult{}, errors.Wrap(payment.ErrBadRequest, "checkoutRequestID is required")
	}
	var res payment.QueryResult
	err := c.do(ctx, http.MethodPost, "/api/mpesa/status", map[string]string{"checkoutRequestID": checkoutRequestID}, &res)
	return res, err
}

func (c *Client) Assign(ctx context.Context, req delivery.AssignRequest) (*order.Order, error) {
	var res mutationResult
	if err := c.do(ctx, http.MethodPost, "/api/delivery/assign", req, &res); err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (c *Client) RiderDetails(ctx context.Context, orderID, suborderID types.ID) (delivery.Assignment, error) {
	q := url.Values{"orderId": {string(orderID)}, "suborderId": {string(suborderID)}}
	var res delivery.Assignment
	err := c.do(ctx, http.MethodGet, "/api/delivery/rider/details?"+q.Encode(), nil, &res)
	return res, err
}

func (c *Client) RiderAction(ctx context.Context, req delivery.RiderActionRequest) (*order.Order, error) {
	var res mutationResult
	if err := c.do(ctx, http.MethodPost, "/api/delivery/rider", req, &res); err != nil {
		return nil, err
	}
	return res.Order, nil
}

// ActiveRiders lists riders available for assignment.
func (c *Client) ActiveRiders(ctx context.Context) ([]delivery.User, error) {
	var res struct {
		Users []delivery.User `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, "/api/users?role=delivery&isActive=true", nil, &res)
	return res.Users, err
}
