// README: Status transition authority; decides (role, status, action) legality and the effects to apply.
package order

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"dukani/internal/types"
)

type ActionKind string

const (
	ActionProcess ActionKind = "process"
	ActionReady   ActionKind = "ready"
	ActionAssign  ActionKind = "assign"
	ActionPickup  ActionKind = "pickup"
	ActionTransit ActionKind = "in_transit"
	ActionDeliver ActionKind = "deliver"
	ActionConfirm ActionKind = "confirm"
	ActionCancel  ActionKind = "cancel"
)

// SuborderActions lists every suborder action in workflow order.
var SuborderActions = []ActionKind{
	ActionProcess, ActionReady, ActionAssign, ActionPickup,
	ActionTransit, ActionDeliver, ActionConfirm, ActionCancel,
}

// Action is a suborder transition request. The set of implementations is
// closed; each carries only the fields its edge accepts.
type Action interface {
	Kind() ActionKind
	validate() error
}

type Process struct{}

type MarkReady struct{}

type Assign struct {
	RiderID     types.ID
	DeliveryFee decimal.Decimal
}

type Pickup struct {
	Notes string
}

type Transit struct {
	Notes string
}

type Deliver struct {
	Notes string
}

type Confirm struct {
	Code string
}

type Cancel struct {
	Reason string
}

func (Process) Kind() ActionKind   { return ActionProcess }
func (MarkReady) Kind() ActionKind { return ActionReady }
func (Assign) Kind() ActionKind    { return ActionAssign }
func (Pickup) Kind() ActionKind    { return ActionPickup }
func (Transit) Kind() ActionKind   { return ActionTransit }
func (Deliver) Kind() ActionKind   { return ActionDeliver }
func (Confirm) Kind() ActionKind   { return ActionConfirm }
func (Cancel) Kind() ActionKind    { return ActionCancel }

func (Process) validate() error   { return nil }
func (MarkReady) validate() error { return nil }
func (Pickup) validate() error    { return nil }
func (Transit) validate() error   { return nil }
func (Deliver) validate() error   { return nil }
func (Cancel) validate() error    { return nil }

func (a Assign) validate() error {
	if a.RiderID == "" {
		return errors.Wrap(ErrBadRequest, "rider id is required")
	}
	if !a.DeliveryFee.IsPositive() {
		return errors.Wrap(ErrBadRequest, "delivery fee must be greater than zero")
	}
	return nil
}

func (a Confirm) validate() error {
	return ValidateCodeFormat(a.Code)
}

type owner int

const (
	ownerNone owner = iota
	ownerVendor
	ownerRider
)

type edge struct {
	role  types.Role
	owner owner
	from  []SuborderStatus
	to    SuborderStatus
}

var openStatuses = []SuborderStatus{
	SubPending, SubProcessing, SubReadyForPickup, SubAssigned,
	SubPickedUp, SubInTransit, SubDelivered,
}

// suborderEdges is the suborder state diagram as code; one role per edge.
var suborderEdges = map[ActionKind]edge{
	ActionProcess: {role: types.RoleVendor, owner: ownerVendor, from: []SuborderStatus{SubPending}, to: SubProcessing},
	ActionReady:   {role: types.RoleVendor, owner: ownerVendor, from: []SuborderStatus{SubPending, SubProcessing}, to: SubReadyForPickup},
	ActionAssign:  {role: types.RoleAdmin, from: []SuborderStatus{SubReadyForPickup}, to: SubAssigned},
	ActionPickup:  {role: types.RoleDelivery, owner: ownerRider, from: []SuborderStatus{SubAssigned}, to: SubPickedUp},
	ActionTransit: {role: types.RoleDelivery, owner: ownerRider, from: []SuborderStatus{SubPickedUp}, to: SubInTransit},
	ActionDeliver: {role: types.RoleDelivery, owner: ownerRider, from: []SuborderStatus{SubInTransit}, to: SubDelivered},
	ActionConfirm: {role: types.RoleDelivery, owner: ownerRider, from: []SuborderStatus{SubDelivered}, to: SubConfirmed},
	ActionCancel:  {role: types.RoleAdmin, from: openStatuses, to: SubCancelled},
}

// CanTransition reports whether the diagram has an edge from -> to, regardless of role.
func CanTransition(from, to SuborderStatus) bool {
	for _, e := range suborderEdges {
		if e.to != to {
			continue
		}
		if containsStatus(e.from, from) {
			return true
		}
	}
	return false
}

// Effect is the concrete change an accepted action applies to a suborder.
type Effect struct {
	Action         ActionKind
	From           SuborderStatus
	To             SuborderStatus
	Rider          *RiderRef
	DeliveryFee    *decimal.Decimal
	Notes          string
	GenerateCode   bool
	MarkDelivered  bool
	MarkConfirmed  bool
	SchedulePayout bool
}

// Decide validates a suborder action for user and returns the effect to persist.
// Checks run in a fixed order: role, payload, ownership, status, preconditions.
func Decide(user types.ActingUser, o *Order, sub *Suborder, a Action) (Effect, error) {
	if a == nil {
		return Effect{}, errors.Wrap(ErrBadRequest, "missing action")
	}
	e, ok := suborderEdges[a.Kind()]
	if !ok {
		return Effect{}, errors.Wrapf(ErrBadRequest, "unknown action %q", a.Kind())
	}
	if err := authorize(user, a.Kind(), e); err != nil {
		return Effect{}, err
	}
	if err := a.validate(); err != nil {
		return Effect{}, err
	}
	if err := checkOwnership(user, sub, e); err != nil {
		return Effect{}, err
	}
	if err := checkStatus(o, sub, a.Kind(), e); err != nil {
		return Effect{}, err
	}

	eff := Effect{Action: a.Kind(), From: sub.Status, To: e.to}
	switch act := a.(type) {
	case Assign:
		fee := act.DeliveryFee
		eff.Rider = &RiderRef{ID: act.RiderID}
		eff.DeliveryFee = &fee
	case Pickup:
		eff.Notes = act.Notes
	case Transit:
		eff.Notes = act.Notes
	case Deliver:
		eff.Notes = act.Notes
		eff.MarkDelivered = true
		eff.GenerateCode = sub.Delivery.ConfirmationCode == nil
	case Confirm:
		if sub.Delivery.ConfirmationCode == nil || !MatchCode(*sub.Delivery.ConfirmationCode, act.Code) {
			return Effect{}, ErrInvalidCode
		}
		eff.MarkConfirmed = true
		eff.SchedulePayout = true
	}
	return eff, nil
}

// Permits reports whether user could request kind against the current,
// fetched state of sub. Payload validation and code matching are skipped.
func Permits(user types.ActingUser, o *Order, sub *Suborder, kind ActionKind) bool {
	e, ok := suborderEdges[kind]
	if !ok || sub == nil {
		return false
	}
	if authorize(user, kind, e) != nil {
		return false
	}
	if checkOwnership(user, sub, e) != nil {
		return false
	}
	return checkStatus(o, sub, kind, e) == nil
}

// Apply returns a copy of sub with eff applied. newCode is consulted only when
// the effect asks for a confirmation code. A status change that is not in the
// diagram is refused.
func (eff Effect) Apply(sub Suborder, now time.Time, newCode func() (string, error)) (Suborder, error) {
	if sub.Status != eff.To && !CanTransition(sub.Status, eff.To) {
		return Suborder{}, errors.Wrapf(ErrInvalidTransition, "%s -> %s", sub.Status, eff.To)
	}
	next := sub
	next.Status = eff.To
	next.StatusVersion = sub.StatusVersion + 1
	next.UpdatedAt = now

	if eff.Rider != nil {
		r := *eff.Rider
		next.Rider = &r
	}
	if eff.DeliveryFee != nil {
		next.DeliveryFee = *eff.DeliveryFee
	}
	if eff.Notes != "" {
		next.Delivery.Notes = eff.Notes
	}
	if eff.MarkDelivered {
		t := now
		next.Delivery.ActualTime = &t
	}
	if eff.GenerateCode {
		code, err := newCode()
		if err != nil {
			return Suborder{}, errors.Wrap(err, "generate confirmation code")
		}
		next.Delivery.ConfirmationCode = &code
	}
	if eff.MarkConfirmed {
		t := now
		next.Delivery.RiderConfirmedAt = &t
	}
	return next, nil
}

func authorize(user types.ActingUser, kind ActionKind, e edge) error {
	role := user.EffectiveRole()
	if role != e.role {
		return errors.Wrapf(ErrNotPermitted, "role %q may not %s", role, kind)
	}
	return nil
}

func checkOwnership(user types.ActingUser, sub *Suborder, e edge) error {
	switch e.owner {
	case ownerVendor:
		if sub.VendorID != user.ID {
			return errors.Wrap(ErrNotPermitted, "suborder belongs to another vendor")
		}
	case ownerRider:
		if !sub.AssignedTo(user.ID) {
			return errors.Wrap(ErrNotPermitted, "suborder is not assigned to this rider")
		}
	}
	return nil
}

func checkStatus(o *Order, sub *Suborder, kind ActionKind, e edge) error {
	if kind == ActionConfirm && (sub.Delivery.RiderConfirmedAt != nil || sub.Status == SubConfirmed) {
		return ErrAlreadyConfirmed
	}
	if !containsStatus(e.from, sub.Status) {
		return errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", kind, sub.Status, e.to)
	}
	// A completed order keeps its deliveries; confirmation may still follow.
	if kind == ActionCancel && o.Status == StatusCompleted {
		return errors.Wrapf(ErrInvalidTransition, "%s: order %s is completed", kind, o.OrderID)
	}
	if kind == ActionAssign && o.Payment.Status != PaymentPaid {
		return ErrPaymentRequired
	}
	return nil
}

func containsStatus(list []SuborderStatus, s SuborderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type OrderActionKind string

const (
	OrderActionComplete OrderActionKind = "complete"
	OrderActionCancel   OrderActionKind = "cancel"
)

// OrderAction is an order-level transition request (admin only).
type OrderAction interface {
	OrderKind() OrderActionKind
}

type CompleteOrder struct{}

type CancelOrder struct {
	Reason string
}

func (CompleteOrder) OrderKind() OrderActionKind { return OrderActionComplete }
func (CancelOrder) OrderKind() OrderActionKind   { return OrderActionCancel }

// DecideOrder validates an order-level action and returns the target status.
func DecideOrder(user types.ActingUser, o *Order, a OrderAction) (Status, error) {
	if a == nil {
		return "", errors.Wrap(ErrBadRequest, "missing action")
	}
	if role := user.EffectiveRole(); role != types.RoleAdmin {
		return "", errors.Wrapf(ErrNotPermitted, "role %q may not %s an order", role, a.OrderKind())
	}
	switch a.(type) {
	case CompleteOrder:
		if o.Status == StatusCompleted || o.Status == StatusCancelled {
			return "", errors.Wrapf(ErrInvalidTransition, "order is %s", o.Status)
		}
		if !ReadyForCompletion(o) {
			return "", errors.Wrap(ErrInvalidTransition, "suborders are still in progress")
		}
		if o.Payment.Status != PaymentPaid {
			return "", ErrPaymentRequired
		}
		return StatusCompleted, nil
	case CancelOrder:
		switch o.Status {
		case StatusCompleted, StatusCancelled, StatusConfirmed:
			return "", errors.Wrapf(ErrInvalidTransition, "order is %s", o.Status)
		}
		return StatusCancelled, nil
	}
	return "", errors.Wrapf(ErrBadRequest, "unknown order action %q", a.OrderKind())
}

// OrderPermits reports whether user could request kind against o as fetched.
func OrderPermits(user types.ActingUser, o *Order, kind OrderActionKind) bool {
	var a OrderAction
	switch kind {
	case OrderActionComplete:
		a = CompleteOrder{}
	case OrderActionCancel:
		a = CancelOrder{}
	default:
		return false
	}
	_, err := DecideOrder(user, o, a)
	return err == nil
}
