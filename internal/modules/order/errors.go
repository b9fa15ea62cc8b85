// README: Sentinel errors shared by the authority, the confirmation protocol and the store.
package order

import "github.com/go-faster/errors"

var (
	ErrBadRequest        = errors.New("bad request")
	ErrNotFound          = errors.New("order not found")
	ErrNotPermitted      = errors.New("not permitted")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("failed to update status")
	ErrInvalidCode       = errors.New("invalid confirmation code")
	ErrAlreadyConfirmed  = errors.New("delivery already confirmed")
	ErrPaymentRequired   = errors.New("order is not paid")
)
