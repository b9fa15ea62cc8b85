package order_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/internal/modules/order"
	"dukani/internal/modules/order/ordertest"
	"dukani/internal/types"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := order.GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, order.CodeLength)
		require.NoError(t, order.ValidateCodeFormat(code))
		assert.Equal(t, order.NormalizeCode(code), code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190, "codes should not repeat in a small sample")
}

func TestValidateCodeFormat(t *testing.T) {
	cases := []struct {
		code string
		ok   bool
	}{
		{"ABCD2345", true},
		{"abcd2345", true},
		{" abcd2345\n", true},
		{"ABC", false},
		{"ABCD23456", false},
		{"ABCD-345", false},
		{"", false},
	}
	for _, tc := range cases {
		err := order.ValidateCodeFormat(tc.code)
		if tc.ok {
			assert.NoError(t, err, "%q", tc.code)
		} else {
			assert.ErrorIs(t, err, order.ErrBadRequest, "%q", tc.code)
		}
	}
}

func TestMatchCode(t *testing.T) {
	assert.True(t, order.MatchCode("K7Q2ZP9X", "k7q2zp9x"))
	assert.True(t, order.MatchCode("K7Q2ZP9X", "  K7Q2ZP9X  "))
	assert.False(t, order.MatchCode("K7Q2ZP9X", "K7Q2ZP9"))
	assert.False(t, order.MatchCode("K7Q2ZP9X", "X9PZ2Q7K"))
}

func TestCheckConfirmationRequest(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		setup   func(o *order.Order)
		user    types.ActingUser
		wantErr error
	}{
		{name: "buyer in transit", setup: at(order.SubInTransit), user: ordertest.Buyer},
		{name: "buyer delivered", setup: at(order.SubDelivered), user: ordertest.Buyer},
		{name: "admin viewing as customer", setup: at(order.SubDelivered), user: ordertest.AdminAsCustomer},
		{name: "plain admin", setup: at(order.SubDelivered), user: ordertest.Admin, wantErr: order.ErrNotPermitted},
		{name: "rider", setup: at(order.SubDelivered), user: ordertest.Rider1, wantErr: order.ErrNotPermitted},
		{name: "vendor", setup: at(order.SubDelivered), user: ordertest.Vendor1, wantErr: order.ErrNotPermitted},
		{
			name:    "another customer",
			setup:   at(order.SubDelivered),
			user:    types.ActingUser{ID: "cust-2", Role: types.RoleCustomer},
			wantErr: order.ErrNotPermitted,
		},
		{name: "too early", setup: at(order.SubPickedUp), user: ordertest.Buyer, wantErr: order.ErrInvalidTransition},
		{name: "cancelled", setup: at(order.SubCancelled), user: ordertest.Buyer, wantErr: order.ErrInvalidTransition},
		{
			name: "already confirmed",
			setup: func(o *order.Order) {
				ordertest.AtStatus(o, 0, order.SubConfirmed)
				o.Suborders[0].Delivery.RiderConfirmedAt = &now
			},
			user:    ordertest.Buyer,
			wantErr: order.ErrAlreadyConfirmed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := ordertest.TwoVendorOrder()
			tc.setup(o)
			err := order.CheckConfirmationRequest(tc.user, o, &o.Suborders[0])
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func at(st order.SuborderStatus) func(*order.Order) {
	return func(o *order.Order) { ordertest.AtStatus(o, 0, st) }
}
