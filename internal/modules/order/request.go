// README: Parses update-status requests into suborder and order actions.
package order

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"dukani/internal/types"
)

// StatusUpdate is a decoded update-status body: a target status plus the
// optional fields some edges accept.
type StatusUpdate struct {
	Status      string
	RiderID     types.ID
	DeliveryFee *decimal.Decimal
	Notes       string
	Code        string
	Reason      string
}

// SuborderAction turns a target suborder status into the action for that
// edge. Fields the edge does not accept are rejected.
func (u StatusUpdate) SuborderAction() (Action, error) {
	st := SuborderStatus(strings.ToUpper(strings.TrimSpace(u.Status)))
	if st != SubAssigned && (u.RiderID != "" || u.DeliveryFee != nil) {
		return nil, errors.Wrapf(ErrBadRequest, "riderId and deliveryFee only apply to %s", SubAssigned)
	}
	if st != SubConfirmed && u.Code != "" {
		return nil, errors.Wrapf(ErrBadRequest, "confirmationCode only applies to %s", SubConfirmed)
	}
	switch st {
	case SubProcessing:
		return Process{}, nil
	case SubReadyForPickup:
		return MarkReady{}, nil
	case SubAssigned:
		a := Assign{RiderID: u.RiderID}
		if u.DeliveryFee != nil {
			a.DeliveryFee = *u.DeliveryFee
		}
		return a, nil
	case SubPickedUp:
		return Pickup{Notes: u.Notes}, nil
	case SubInTransit:
		return Transit{Notes: u.Notes}, nil
	case SubDelivered:
		return Deliver{Notes: u.Notes}, nil
	case SubConfirmed:
		return Confirm{Code: u.Code}, nil
	case SubCancelled:
		return Cancel{Reason: u.Reason}, nil
	}
	return nil, errors.Wrapf(ErrBadRequest, "unsupported suborder status %q", u.Status)
}

// OrderAction turns a target order status into an order-level action.
func (u StatusUpdate) OrderAction() (OrderAction, error) {
	if u.RiderID != "" || u.DeliveryFee != nil || u.Code != "" {
		return nil, errors.Wrap(ErrBadRequest, "rider, fee and code fields need a suborderId")
	}
	switch Status(strings.ToUpper(strings.TrimSpace(u.Status))) {
	case StatusCompleted:
		return CompleteOrder{}, nil
	case StatusCancelled:
		return CancelOrder{Reason: u.Reason}, nil
	}
	return nil, errors.Wrapf(ErrBadRequest, "unsupported order status %q", u.Status)
}
