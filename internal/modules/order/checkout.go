// README: Checkout draft: validates the cart and splits it into per-vendor suborders.
package order

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"dukani/internal/modules/pricing"
	"dukani/internal/types"
)

type DraftCommand struct {
	BuyerID       types.ID
	Items         []LineItem
	Shipping      Address
	PaymentMethod string
}

func (c DraftCommand) validate() error {
	if c.BuyerID == "" {
		return errors.Wrap(ErrBadRequest, "buyer id is required")
	}
	if len(c.Items) == 0 {
		return errors.Wrap(ErrBadRequest, "order has no items")
	}
	for i, it := range c.Items {
		switch {
		case it.ProductID == "":
			return errors.Wrapf(ErrBadRequest, "item %d: product id is required", i)
		case it.VendorID == "":
			return errors.Wrapf(ErrBadRequest, "item %d: vendor id is required", i)
		case it.Quantity <= 0:
			return errors.Wrapf(ErrBadRequest, "item %d: quantity must be positive", i)
		case it.UnitPrice.IsNegative():
			return errors.Wrapf(ErrBadRequest, "item %d: price must not be negative", i)
		}
	}
	a := c.Shipping
	if strings.TrimSpace(a.FullName) == "" || strings.TrimSpace(a.Phone) == "" ||
		strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" {
		return errors.Wrap(ErrBadRequest, "shipping address requires name, phone, address and city")
	}
	if c.PaymentMethod != "" && !strings.EqualFold(c.PaymentMethod, PaymentMethodMpesa) {
		return errors.Wrapf(ErrBadRequest, "unsupported payment method %q", c.PaymentMethod)
	}
	return nil
}

// vendorGroup keeps the cart order of first appearance per vendor.
type vendorGroup struct {
	vendorID types.ID
	shopID   types.ID
	items    []LineItem
}

func groupByVendor(items []LineItem) []vendorGroup {
	idx := map[types.ID]int{}
	var groups []vendorGroup
	for _, it := range items {
		i, ok := idx[it.VendorID]
		if !ok {
			i = len(groups)
			idx[it.VendorID] = i
			groups = append(groups, vendorGroup{vendorID: it.VendorID, shopID: it.ShopID})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

// buildDraft assembles a PENDING order from a validated command and its quote.
func buildDraft(cmd DraftCommand, groups []vendorGroup, q pricing.Quote, now time.Time, ref string) *Order {
	o := &Order{
		ID:          types.ID(uuid.NewString()),
		OrderID:     ref,
		BuyerID:     cmd.BuyerID,
		Items:       cmd.Items,
		TotalAmount: q.Total,
		PlatformFee: q.PlatformFee,
		ShippingFee: q.ShippingFee,
		Currency:    q.Currency,
		Payment: Payment{
			Method: PaymentMethodMpesa,
			Status: PaymentPending,
		},
		Shipping:  cmd.Shipping,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	dropoff := formatAddress(cmd.Shipping)
	for i, g := range groups {
		vq := q.Vendors[i]
		o.Suborders = append(o.Suborders, Suborder{
			ID:                types.ID(uuid.NewString()),
			VendorID:          g.vendorID,
			ShopID:            g.shopID,
			Amount:            vq.Amount,
			Commission:        vq.Commission,
			NetAmount:         vq.NetAmount,
			RiderPayoutStatus: PayoutPending,
			Status:            SubPending,
			Delivery:          DeliveryDetails{DropoffAddress: dropoff},
			UpdatedAt:         now,
		})
	}
	return o
}

func formatAddress(a Address) string {
	parts := []string{a.Street, a.City, a.County, a.PostalCode}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

const refAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var refPattern = regexp.MustCompile(`^ORD-\d{8}-[A-Z0-9]{6}$`)

// NewOrderRef returns a human-readable order reference, ORD-YYYYMMDD-XXXXXX.
func NewOrderRef(now time.Time) (string, error) {
	max := big.NewInt(int64(len(refAlphabet)))
	b := make([]byte, 6)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "order ref")
		}
		b[i] = refAlphabet[n.Int64()]
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + string(b), nil
}

// ValidOrderRef reports whether ref has the ORD-YYYYMMDD-XXXXXX shape.
func ValidOrderRef(ref string) bool {
	return refPattern.MatchString(ref)
}
