// README: Delivery handlers: rider assignment, the rider's delivery view and rider actions.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dukani/internal/http/middleware"
	"dukani/internal/modules/delivery"
	"dukani/internal/modules/projection"
	"dukani/internal/types"
)

type DeliveryHandler struct {
	delivery *delivery.Service
}

func NewDeliveryHandler(svc *delivery.Service) *DeliveryHandler {
	return &DeliveryHandler{delivery: svc}
}

func (h *DeliveryHandler) Assign(c *gin.Context) {
	var req delivery.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	user := middleware.Caller(c, "")
	o, err := h.delivery.Assign(c.Request.Context(), user, req)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, mutationResp{Message: "rider assigned", Order: projection.Redact(o, user)})
}

func (h *DeliveryHandler) RiderDetails(c *gin.Context) {
	orderID, subID := c.Query("orderId"), c.Query("suborderId")
	if !isValidID(orderID) || !isValidID(subID) {
		badRequest(c, "orderId and suborderId are required")
		return
	}
	a, err := h.delivery.Assignment(c.Request.Context(), middleware.Caller(c, ""), types.ID(orderID), types.ID(subID))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}

func (h *DeliveryHandler) RiderAction(c *gin.Context) {
	var req delivery.RiderActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	user := middleware.Caller(c, "")
	o, err := h.delivery.RiderAction(c.Request.Context(), user, req)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, mutationResp{Message: "status updated", Order: projection.Redact(o, user)})
}
