// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"dukani/internal/modules/delivery"
	"dukani/internal/modules/order"
	"dukani/internal/modules/payment"
)

// errorResponse is the order and delivery error body.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// paymentErrorResponse is the payment endpoints' error body.
type paymentErrorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the ids this service issues: uuids and short slugs.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Message: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, order.CodeBadRequest, msg)
}

var codeStatus = map[string]int{
	order.CodeBadRequest:        http.StatusBadRequest,
	order.CodeNotPermitted:      http.StatusForbidden,
	order.CodeInvalidTransition: http.StatusConflict,
	order.CodeConflict:          http.StatusConflict,
	order.CodeInvalidCode:       http.StatusUnprocessableEntity,
	order.CodeAlreadyConfirmed:  http.StatusConflict,
	order.CodePaymentRequired:   http.StatusPaymentRequired,
	order.CodeNotFound:          http.StatusNotFound,
}

func writeOrderError(c *gin.Context, err error) {
	if errors.Is(err, delivery.ErrUserNotFound) {
		writeError(c, http.StatusNotFound, order.CodeNotFound, err.Error())
		return
	}
	code := order.ErrorCode(err)
	status, ok := codeStatus[code]
	if !ok {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, order.CodeInternal, "internal error")
		return
	}
	msg := order.CodeError(code).Error()
	if code == order.CodeBadRequest {
		msg = err.Error()
	}
	writeError(c, status, code, msg)
}

func writePaymentError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, payment.ErrInvalidPhone), errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, payment.ErrBadRequest), errors.Is(err, order.ErrBadRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, payment.ErrAlreadyPaid):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrNotFound):
		status, msg = http.StatusNotFound, "order not found"
	case errors.Is(err, order.ErrNotPermitted):
		status, msg = http.StatusForbidden, "not permitted"
	case errors.Is(err, payment.ErrGateway):
		status, msg = http.StatusBadGateway, "payment gateway unavailable"
	}
	if status >= 500 {
		_ = c.Error(err)
	}
	writeJSON(c, status, paymentErrorResponse{Error: msg})
}
