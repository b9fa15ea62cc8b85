// README: Admin endpoint for per-vendor commission overrides.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"dukani/internal/modules/pricing"
	"dukani/internal/types"
)

type PricingHandler struct {
	pricing *pricing.Service
}

func NewPricingHandler(p *pricing.Service) *PricingHandler {
	return &PricingHandler{pricing: p}
}

type commissionReq struct {
	Rate *decimal.Decimal `json:"rate"`
}

type commissionResp struct {
	VendorID types.ID        `json:"vendorId"`
	Rate     decimal.Decimal `json:"rate"`
}

// SetCommission serves PUT /api/vendors/:vendorId/commission. It applies to
// drafts created afterwards; existing orders keep their commission.
func (h *PricingHandler) SetCommission(c *gin.Context) {
	vendorID := c.Param("vendorId")
	if !isValidID(vendorID) {
		badRequest(c, "invalid vendor id")
		return
	}
	var req commissionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Rate == nil {
		badRequest(c, "rate is required")
		return
	}
	err := h.pricing.SetCommissionRate(c.Request.Context(), types.ID(vendorID), *req.Rate)
	if errors.Is(err, pricing.ErrInvalidRate) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, commissionResp{VendorID: types.ID(vendorID), Rate: *req.Rate})
}
