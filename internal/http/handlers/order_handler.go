// README: Order handlers: draft, fetch, update-status and the delivery confirmation exchange.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"dukani/internal/http/middleware"
	"dukani/internal/modules/order"
	"dukani/internal/modules/projection"
	"dukani/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type draftReq struct {
	Items         []order.LineItem `json:"items"`
	Shipping      order.Address    `json:"shipping"`
	PaymentMethod string           `json:"paymentMethod"`
}

type draftResp struct {
	AccountReference string          `json:"accountReference"`
	OrderID          types.ID        `json:"orderId"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Currency         string          `json:"currency"`
	Order            *order.Order    `json:"order"`
}

func (h *OrderHandler) Draft(c *gin.Context) {
	var req draftReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	user := middleware.Caller(c, "")
	o, err := h.order.CreateDraft(c.Request.Context(), order.DraftCommand{
		BuyerID:       user.ID,
		Items:         req.Items,
		Shipping:      req.Shipping,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, draftResp{
		AccountReference: o.OrderID,
		OrderID:          o.ID,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		Order:            projection.Redact(o, user),
	})
}

// orderResp carries the role-redacted order and the server's projection of it.
type orderResp struct {
	Order *order.Order    `json:"order"`
	View  projection.View `json:"view"`
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("orderId")
	if !isValidID(id) {
		badRequest(c, "invalid order id")
		return
	}
	user := middleware.Caller(c, c.Query("viewAs"))
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	view, err := projection.Project(o, user, projection.Selection{SuborderID: types.ID(c.Query("suborderId"))})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderResp{Order: projection.Redact(o, user), View: view})
}

func (h *OrderHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	user := middleware.Caller(c, c.Query("viewAs"))
	orders, err := h.order.List(c.Request.Context(), user, limit)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, projection.Redact(o, user))
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": out})
}

type updateStatusReq struct {
	OrderID          types.ID         `json:"orderId"`
	SuborderID       types.ID         `json:"suborderId"`
	Status           string           `json:"status"`
	RiderID          types.ID         `json:"riderId"`
	DeliveryFee      *decimal.Decimal `json:"deliveryFee"`
	ViewAs           string           `json:"viewAs"`
	Notes            string           `json:"notes"`
	ConfirmationCode string           `json:"confirmationCode"`
	Reason           string           `json:"reason"`
}

type mutationResp struct {
	Message string       `json:"message"`
	Order   *order.Order `json:"order"`
}

// UpdateStatus is the single mutation endpoint. With a suborderId it moves
// that suborder; without one it applies an order-level admin action.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !isValidID(string(req.OrderID)) || req.Status == "" {
		badRequest(c, "orderId and status are required")
		return
	}
	user := middleware.Caller(c, req.ViewAs)
	upd := order.StatusUpdate{
		Status:      req.Status,
		RiderID:     req.RiderID,
		DeliveryFee: req.DeliveryFee,
		Notes:       req.Notes,
		Code:        req.ConfirmationCode,
		Reason:      req.Reason,
	}

	var (
		o   *order.Order
		err error
	)
	if req.SuborderID != "" {
		a, aerr := upd.SuborderAction()
		if aerr != nil {
			writeOrderError(c, aerr)
			return
		}
		o, err = h.order.Transition(c.Request.Context(), user, req.OrderID, req.SuborderID, a)
	} else {
		a, aerr := upd.OrderAction()
		if aerr != nil {
			writeOrderError(c, aerr)
			return
		}
		o, err = h.order.TransitionOrder(c.Request.Context(), user, req.OrderID, a)
	}
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, mutationResp{Message: "status updated", Order: projection.Redact(o, user)})
}

type confirmDeliveryReq struct {
	OrderID          types.ID `json:"orderId"`
	SuborderID       types.ID `json:"suborderId"`
	ConfirmationCode string   `json:"confirmationCode"`
	ViewAs           string   `json:"viewAs"`
}

// ConfirmDelivery without a code is the customer asking for one; with a
// code it is the rider verifying it.
func (h *OrderHandler) ConfirmDelivery(c *gin.Context) {
	var req confirmDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !isValidID(string(req.OrderID)) || !isValidID(string(req.SuborderID)) {
		badRequest(c, "orderId and suborderId are required")
		return
	}
	user := middleware.Caller(c, req.ViewAs)
	ctx := c.Request.Context()

	if req.ConfirmationCode == "" {
		code, err := h.order.RequestConfirmation(ctx, user, req.OrderID, req.SuborderID)
		if err != nil {
			writeOrderError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"confirmationCode": code})
		return
	}
	o, err := h.order.VerifyConfirmation(ctx, user, req.OrderID, req.SuborderID, req.ConfirmationCode)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, mutationResp{Message: "delivery confirmed", Order: projection.Redact(o, user)})
}
