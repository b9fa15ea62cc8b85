// README: M-PESA payment handlers; errors use the {"error": ...} body.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dukani/internal/http/middleware"
	"dukani/internal/modules/payment"
)

type PaymentHandler struct {
	payment *payment.Service
	log     *zap.Logger
}

func NewPaymentHandler(svc *payment.Service, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{payment: svc, log: log}
}

func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req payment.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, paymentErrorResponse{Error: "invalid json"})
		return
	}
	res, err := h.payment.Initiate(c.Request.Context(), middleware.Caller(c, ""), req)
	if err != nil {
		writePaymentError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *PaymentHandler) Status(c *gin.Context) {
	ref := c.Param("orderRef")
	if ref == "" {
		writeJSON(c, http.StatusBadRequest, paymentErrorResponse{Error: "missing order reference"})
		return
	}
	st, err := h.payment.Status(c.Request.Context(), ref)
	if err != nil {
		writePaymentError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

type queryReq struct {
	CheckoutRequestID string `json:"checkoutRequestID"`
}

func (h *PaymentHandler) Query(c *gin.Context) {
	var req queryReq
	_ = c.ShouldBindJSON(&req)
	res, err := h.payment.Query(c.Request.Context(), req.CheckoutRequestID)
	if err != nil {
		h.log.Warn("stk query failed", zap.String("checkout_request_id", req.CheckoutRequestID), zap.Error(err))
		writeJSON(c, http.StatusOK, payment.QueryResult{ResultCode: 1, ResultDesc: "status unavailable"})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// Callback always acknowledges; the gateway retries anything else.
func (h *PaymentHandler) Callback(c *gin.Context) {
	var p payment.CallbackPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		h.log.Warn("malformed mpesa callback", zap.Error(err))
	} else if err := h.payment.Callback(c.Request.Context(), p); err != nil {
		h.log.Error("mpesa callback not applied",
			zap.String("checkout_request_id", p.Body.StkCallback.CheckoutRequestID),
			zap.Error(err),
		)
	}
	writeJSON(c, http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
