// README: Checkout pricing inputs (configured rates) and the per-vendor quote.
package pricing

import (
	"github.com/shopspring/decimal"

	"dukani/internal/types"
)

// Rates are the marketplace defaults. CommissionRate is a fraction (0.1 = 10%).
type Rates struct {
	CommissionRate decimal.Decimal
	PlatformFee    decimal.Decimal
	ShippingFee    decimal.Decimal
	Currency       string
}

// Line is one vendor's share of a cart.
type Line struct {
	VendorID types.ID
	Subtotal decimal.Decimal
}

type VendorQuote struct {
	VendorID   types.ID
	Amount     decimal.Decimal
	Commission decimal.Decimal
	NetAmount  decimal.Decimal
}

type Quote struct {
	Vendors     []VendorQuote
	PlatformFee decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
	Currency    string
}
