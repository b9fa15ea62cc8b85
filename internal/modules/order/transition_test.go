// README: Authority tests: exhaustive role x status x action table plus targeted rejections.
package order_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/internal/modules/order"
	"dukani/internal/modules/order/ordertest"
	"dukani/internal/types"
)

func actionFor(kind order.ActionKind) order.Action {
	switch kind {
	case order.ActionProcess:
		return order.Process{}
	case order.ActionReady:
		return order.MarkReady{}
	case order.ActionAssign:
		return order.Assign{RiderID: ordertest.Rider1.ID, DeliveryFee: decimal.NewFromInt(300)}
	case order.ActionPickup:
		return order.Pickup{}
	case order.ActionTransit:
		return order.Transit{}
	case order.ActionDeliver:
		return order.Deliver{}
	case order.ActionConfirm:
		return order.Confirm{Code: "ABCD2345"}
	case order.ActionCancel:
		return order.Cancel{}
	}
	return nil
}

// TestDecideExhaustive walks every (actor, status, action) triple and checks
// that exactly the legal edges are accepted.
func TestDecideExhaustive(t *testing.T) {
	type actor struct {
		name string
		user types.ActingUser
	}
	actors := []actor{
		{"customer", ordertest.Buyer},
		{"vendor-owner", ordertest.Vendor1},
		{"vendor-other", ordertest.Vendor2},
		{"rider-assigned", ordertest.Rider1},
		{"rider-other", ordertest.Rider2},
		{"admin", ordertest.Admin},
		{"admin-as-customer", ordertest.AdminAsCustomer},
	}

	legal := map[string]map[order.ActionKind][]order.SuborderStatus{
		"vendor-owner": {
			order.ActionProcess: {order.SubPending},
			order.ActionReady:   {order.SubPending, order.SubProcessing},
		},
		"admin": {
			order.ActionAssign: {order.SubReadyForPickup},
			order.ActionCancel: {
				order.SubPending, order.SubProcessing, order.SubReadyForPickup, order.SubAssigned,
				order.SubPickedUp, order.SubInTransit, order.SubDelivered,
			},
		},
		"rider-assigned": {
			order.ActionPickup:  {order.SubAssigned},
			order.ActionTransit: {order.SubPickedUp},
			order.ActionDeliver: {order.SubInTransit},
			order.ActionConfirm: {order.SubDelivered},
		},
	}
	allowed := func(who string, kind order.ActionKind, st order.SuborderStatus) bool {
		for _, s := range legal[who][kind] {
			if s == st {
				return true
			}
		}
		return false
	}

	for _, a := range actors {
		for _, st := range order.AllSuborderStatuses {
			for _, kind := range order.SuborderActions {
				o := ordertest.WithCode(ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, st), 0, "ABCD2345")
				sub := &o.Suborders[0]

				_, err := order.Decide(a.user, o, sub, actionFor(kind))
				want := allowed(a.name, kind, st)
				if want && err != nil {
					t.Errorf("%s %s from %s: unexpected error %v", a.name, kind, st, err)
				}
				if !want && err == nil {
					t.Errorf("%s %s from %s: expected rejection", a.name, kind, st)
				}
				if got := order.Permits(a.user, o, sub, kind); got != want {
					t.Errorf("Permits(%s, %s, %s) = %v, want %v", a.name, st, kind, got, want)
				}
			}
		}
	}
}

func TestDecide_AssignScenario(t *testing.T) {
	o := ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubReadyForPickup)
	sub := &o.Suborders[0]

	eff, err := order.Decide(ordertest.Admin, o, sub, order.Assign{RiderID: "R1", DeliveryFee: decimal.NewFromInt(300)})
	require.NoError(t, err)

	next, err := eff.Apply(*sub, time.Now(), order.GenerateCode)
	require.NoError(t, err)
	assert.Equal(t, order.SubAssigned, next.Status)
	assert.Equal(t, types.ID("R1"), next.RiderID())
	assert.True(t, next.DeliveryFee.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, sub.StatusVersion+1, next.StatusVersion)
	assert.Nil(t, next.Delivery.ConfirmationCode)
}

func TestDecide_AssignRejections(t *testing.T) {
	cases := []struct {
		name    string
		user    types.ActingUser
		paid    bool
		action  order.Assign
		wantErr error
	}{
		{"vendor never assigns", ordertest.Vendor1, true, order.Assign{RiderID: "R1", DeliveryFee: decimal.NewFromInt(300)}, order.ErrNotPermitted},
		{"rider never assigns", ordertest.Rider1, true, order.Assign{RiderID: "R1", DeliveryFee: decimal.NewFromInt(300)}, order.ErrNotPermitted},
		{"missing rider", ordertest.Admin, true, order.Assign{DeliveryFee: decimal.NewFromInt(300)}, order.ErrBadRequest},
		{"zero fee", ordertest.Admin, true, order.Assign{RiderID: "R1"}, order.ErrBadRequest},
		{"negative fee", ordertest.Admin, true, order.Assign{RiderID: "R1", DeliveryFee: decimal.NewFromInt(-5)}, order.ErrBadRequest},
		{"unpaid order", ordertest.Admin, false, order.Assign{RiderID: "R1", DeliveryFee: decimal.NewFromInt(300)}, order.ErrPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubReadyForPickup)
			if !tc.paid {
				o.Payment.Status = order.PaymentPending
			}
			_, err := order.Decide(tc.user, o, &o.Suborders[0], tc.action)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

// A vendor is refused the assign edge whatever the current status is.
func TestDecide_VendorAssignRejectedFromEveryStatus(t *testing.T) {
	for _, st := range order.AllSuborderStatuses {
		o := ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, st)
		_, err := order.Decide(ordertest.Vendor1, o, &o.Suborders[0], order.Assign{RiderID: "R1", DeliveryFee: decimal.NewFromInt(300)})
		assert.ErrorIs(t, err, order.ErrNotPermitted, "status %s", st)
	}
}

func TestDecide_DeliverGeneratesCode(t *testing.T) {
	o := ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubInTransit)
	sub := &o.Suborders[0]

	eff, err := order.Decide(ordertest.Rider1, o, sub, order.Deliver{Notes: "left with guard"})
	require.NoError(t, err)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	next, err := eff.Apply(*sub, now, order.GenerateCode)
	require.NoError(t, err)

	assert.Equal(t, order.SubDelivered, next.Status)
	require.NotNil(t, next.Delivery.ConfirmationCode)
	assert.Len(t, *next.Delivery.ConfirmationCode, order.CodeLength)
	assert.NoError(t, order.ValidateCodeFormat(*next.Delivery.ConfirmationCode))
	assert.Nil(t, next.Delivery.RiderConfirmedAt)
	require.NotNil(t, next.Delivery.ActualTime)
	assert.Equal(t, now, *next.Delivery.ActualTime)
	assert.Equal(t, "left with guard", next.Delivery.Notes)
}

func TestDecide_DeliverKeepsExistingCode(t *testing.T) {
	o := ordertest.WithCode(ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubInTransit), 0, "KEEPME22")
	eff, err := order.Decide(ordertest.Rider1, o, &o.Suborders[0], order.Deliver{})
	require.NoError(t, err)
	assert.False(t, eff.GenerateCode)
}

func TestDecide_Confirm(t *testing.T) {
	base := func() *order.Order {
		return ordertest.WithCode(ordertest.AtStatus(ordertest.TwoVendorOrder(), 0, order.SubDelivered), 0, "K7Q2ZP9X")
	}

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		o := base()
		eff, err := order.Decide(ordertest.Rider1, o, &o.Suborders[0], order.Confirm{Code: "  k7q2zp9x "})
		require.NoError(t, err)
		assert.Equal(t, order.SubConfirmed, eff.To)
		assert.True(t, eff.SchedulePayout)

		next, err := eff.Apply(o.Suborders[0], time.Now(), nil)
		require.NoError(t, err)
		assert.NotNil(t, next.Delivery.RiderConfirmedAt)
	})
	t.Run("mismatch", func(t *testing.T) {
		o := base()
		_, err := order.Decide(ordertest.Rider1, o, &o.Suborders[0], order.Confirm{Code: "K7Q2ZP9Y"})
		assert.ErrorIs(t, err, order.ErrInvalidCode)
	})
	t.Run("bad format", func(t *testing.T) {
		o := base()
		_, err := order.Decide(ordertest.Rider1, o, &o.Suborders[0], order.Confirm{Code: "K7Q2"})
		assert.ErrorIs(t, err, order.ErrBadRequest)
	})
	t.Run("already confirmed", func(t *testing.T) {
		o := base()
		now := time.Now()
		o.Suborders[0].Status = order.SubConfirmed
		o.Suborders[0].Delivery.RiderConfirmedAt = &now
		_, err := order.Decide(ordertest.Rider1, o, &o.Suborders[0], order.Confirm{Code: "K7Q2ZP9X"})
		assert.ErrorIs(t, err, order.ErrAlreadyConfirmed)
	})
	t.Run("other rider", func(t *testing.T) {
		o := base()
		_, err := order.Decide(ordertest.Rider2, o, &o.Suborders[0], order.Confirm{Code: "K7Q2ZP9X"})
		assert.ErrorIs(t, err, order.ErrNotPermitted)
	})
}

// Whatever sequence of accepted actions runs, a suborder at or after
// ASSIGNED always carries a rider.
func TestRiderInvariantAlongHappyPath(t *testing.T) {
	o := ordertest.TwoVendorOrder()
	steps := []struct {
		user   types.ActingUser
		action order.Action
	}{
		{ordertest.Vendor1, order.Process{}},
		{ordertest.Vendor1, order.MarkReady{}},
		{ordertest.Admin, order.Assign{RiderID: ordertest.Rider1.ID, DeliveryFee: decimal.NewFromInt(250)}},
		{ordertest.Rider1, order.Pickup{}},
		{ordertest.Rider1, order.Transit{}},
		{ordertest.Rider1, order.Deliver{}},
	}
	now := time.Now()
	for _, step := range steps {
		sub := &o.Suborders[0]
		eff, err := order.Decide(step.user, o, sub, step.action)
		require.NoError(t, err, "%s", step.action.Kind())
		next, err := eff.Apply(*sub, now, order.GenerateCode)
		require.NoError(t, err)
		o.Suborders[0] = next
		if next.Status.RequiresRider() {
			assert.NotEmpty(t, next.RiderID(), "status %s", next.Status)
		}
	}

	sub := &o.Suborders[0]
	eff, err := order.Decide(ordertest.Rider1, o, sub, order.Confirm{Code: *sub.Delivery.ConfirmationCode})
	require.NoError(t, err)
	next, err := eff.Apply(*sub, now, nil)
	require.NoError(t, err)
	assert.Equal(t, order.SubConfirmed, next.Status)
	assert.Equal(t, ordertest.Rider1.ID, next.RiderID())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to order.SuborderStatus
		want     bool
	}{
		{order.SubPending, order.SubProcessing, true},
		{order.SubPending, order.SubReadyForPickup, true},
		{order.SubProcessing, order.SubReadyForPickup, true},
		{order.SubReadyForPickup, order.SubAssigned, true},
		{order.SubAssigned, order.SubPickedUp, true},
		{order.SubPickedUp, order.SubInTransit, true},
		{order.SubInTransit, order.SubDelivered, true},
		{order.SubDelivered, order.SubConfirmed, true},
		{order.SubDelivered, order.SubCancelled, true},
		// terminal states have no outgoing edges
		{order.SubConfirmed, order.SubCancelled, false},
		{order.SubCancelled, order.SubPending, false},
		// no skipping
		{order.SubPending, order.SubAssigned, false},
		{order.SubAssigned, order.SubDelivered, false},
		{order.SubInTransit, order.SubConfirmed, false},
	}
	for _, tc := range cases {
		if got := order.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDecide_CancelAfterCompletion(t *testing.T) {
	o := ordertest.TwoVendorOrder()
	ordertest.AtStatus(o, 0, order.SubConfirmed)
	ordertest.WithCode(ordertest.AtStatus(o, 1, order.SubDelivered), 1, "DLV2X7K9")
	o.Payment.Status = order.PaymentPaid
	o.Status = order.StatusCompleted
	sub := &o.Suborders[1]

	_, err := order.Decide(ordertest.Admin, o, sub, order.Cancel{Reason: "late"})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.False(t, order.Permits(ordertest.Admin, o, sub, order.ActionCancel))

	eff, err := order.Decide(ordertest.Rider1, o, sub, order.Confirm{Code: "DLV2X7K9"})
	require.NoError(t, err)
	assert.Equal(t, order.SubConfirmed, eff.To)

	o.Status = order.StatusDelivered
	_, err = order.Decide(ordertest.Admin, o, sub, order.Cancel{})
	assert.NoError(t, err)
}

func TestApply_RefusesMovesOutsideTheDiagram(t *testing.T) {
	o := ordertest.TwoVendorOrder()
	eff := order.Effect{Action: order.ActionConfirm, From: order.SubPending, To: order.SubConfirmed, MarkConfirmed: true}
	_, err := eff.Apply(o.Suborders[0], time.Now(), nil)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	// Reissuing a code keeps the status and is allowed.
	ordertest.AtStatus(o, 0, order.SubDelivered)
	eff = order.Effect{Action: order.ActionDeliver, From: order.SubDelivered, To: order.SubDelivered, GenerateCode: true}
	next, err := eff.Apply(o.Suborders[0], time.Now(), func() (string, error) { return "NEWC0DE2", nil })
	require.NoError(t, err)
	require.NotNil(t, next.Delivery.ConfirmationCode)
	assert.Equal(t, "NEWC0DE2", *next.Delivery.ConfirmationCode)
}

func TestDecideOrder(t *testing.T) {
	settled := func() *order.Order {
		o := ordertest.TwoVendorOrder()
		ordertest.AtStatus(o, 0, order.SubConfirmed)
		ordertest.AtStatus(o, 1, order.SubDelivered)
		o.Status = order.StatusDelivered
		return o
	}

	to, err := order.DecideOrder(ordertest.Admin, settled(), order.CompleteOrder{})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, to)

	_, err = order.DecideOrder(ordertest.Vendor1, settled(), order.CompleteOrder{})
	assert.ErrorIs(t, err, order.ErrNotPermitted)

	_, err = order.DecideOrder(ordertest.AdminAsCustomer, settled(), order.CompleteOrder{})
	assert.ErrorIs(t, err, order.ErrNotPermitted)

	// one suborder still on the road
	o := settled()
	ordertest.AtStatus(o, 1, order.SubInTransit)
	_, err = order.DecideOrder(ordertest.Admin, o, order.CompleteOrder{})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	o = settled()
	o.Payment.Status = order.PaymentFailed
	_, err = order.DecideOrder(ordertest.Admin, o, order.CompleteOrder{})
	assert.ErrorIs(t, err, order.ErrPaymentRequired)

	o = settled()
	o.Status = order.StatusCompleted
	_, err = order.DecideOrder(ordertest.Admin, o, order.CancelOrder{})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	to, err = order.DecideOrder(ordertest.Admin, ordertest.TwoVendorOrder(), order.CancelOrder{Reason: "fraud"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, to)
}

// An order can never complete while any suborder is outside the settled set.
func TestCompleteGuardEveryStatus(t *testing.T) {
	for _, st := range order.AllSuborderStatuses {
		o := ordertest.TwoVendorOrder()
		ordertest.AtStatus(o, 0, order.SubConfirmed)
		ordertest.AtStatus(o, 1, st)
		_, err := order.DecideOrder(ordertest.Admin, o, order.CompleteOrder{})
		if st.Settled() {
			assert.NoError(t, err, "status %s", st)
		} else {
			assert.ErrorIs(t, err, order.ErrInvalidTransition, "status %s", st)
		}
	}
}
