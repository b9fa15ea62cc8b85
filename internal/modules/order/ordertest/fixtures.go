// README: Shared order fixtures and acting users for tests.
package ordertest

import (
	"time"

	"github.com/shopspring/decimal"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

var (
	Buyer   = types.ActingUser{ID: "cust-1", Role: types.RoleCustomer}
	Vendor1 = types.ActingUser{ID: "vendor-1", Role: types.RoleVendor}
	Vendor2 = types.ActingUser{ID: "vendor-2", Role: types.RoleVendor}
	Rider1  = types.ActingUser{ID: "rider-1", Role: types.RoleDelivery}
	Rider2  = types.ActingUser{ID: "rider-2", Role: types.RoleDelivery}
	Admin   = types.ActingUser{ID: "admin-1", Role: types.RoleAdmin}
	// AdminAsCustomer is an admin impersonating the customer view.
	AdminAsCustomer = types.ActingUser{ID: "admin-1", Role: types.RoleAdmin, ViewAs: types.RoleCustomer}
)

// TwoVendorOrder returns a paid order with one PENDING suborder per vendor.
func TwoVendorOrder() *order.Order {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:      "order-1",
		OrderID: "ORD-20260301-ABC234",
		BuyerID: Buyer.ID,
		Items: []order.LineItem{
			{ProductID: "p1", VendorID: Vendor1.ID, ShopID: "shop-1", Name: "Kikoi", UnitPrice: decimal.NewFromInt(500), Quantity: 2},
			{ProductID: "p2", VendorID: Vendor2.ID, ShopID: "shop-2", Name: "Sandals", UnitPrice: decimal.NewFromInt(300), Quantity: 1},
		},
		TotalAmount: decimal.NewFromInt(1470),
		PlatformFee: decimal.NewFromInt(20),
		ShippingFee: decimal.NewFromInt(150),
		Currency:    "KES",
		Payment:     order.Payment{Method: order.PaymentMethodMpesa, Status: order.PaymentPaid},
		Shipping:    order.Address{FullName: "Amina W", Phone: "0712345678", Street: "Moi Ave 12", City: "Nairobi"},
		Status:      order.StatusPending,
		Suborders: []order.Suborder{
			{
				ID: "sub-1", VendorID: Vendor1.ID, ShopID: "shop-1",
				Amount: decimal.NewFromInt(1000), Commission: decimal.NewFromInt(100), NetAmount: decimal.NewFromInt(900),
				RiderPayoutStatus: order.PayoutPending, Status: order.SubPending,
				Delivery: order.DeliveryDetails{PickupAddress: "Biashara St", DropoffAddress: "Moi Ave 12, Nairobi"},
			},
			{
				ID: "sub-2", VendorID: Vendor2.ID, ShopID: "shop-2",
				Amount: decimal.NewFromInt(300), Commission: decimal.NewFromInt(30), NetAmount: decimal.NewFromInt(270),
				RiderPayoutStatus: order.PayoutPending, Status: order.SubPending,
				Delivery: order.DeliveryDetails{DropoffAddress: "Moi Ave 12, Nairobi"},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AtStatus moves suborder i of o to st, assigning rider-1 when st needs one.
func AtStatus(o *order.Order, i int, st order.SuborderStatus) *order.Order {
	s := &o.Suborders[i]
	s.Status = st
	if st.RequiresRider() && s.Rider == nil {
		s.Rider = &order.RiderRef{ID: Rider1.ID}
		s.DeliveryFee = decimal.NewFromInt(200)
	}
	return o
}

// WithCode sets a confirmation code on suborder i.
func WithCode(o *order.Order, i int, code string) *order.Order {
	o.Suborders[i].Delivery.ConfirmationCode = &code
	return o
}
