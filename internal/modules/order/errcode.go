// README: Stable wire codes for the order sentinel errors.
package order

import "github.com/go-faster/errors"

// Error codes carried in API error bodies.
const (
	CodeBadRequest        = "bad_request"
	CodeNotPermitted      = "not_permitted"
	CodeInvalidTransition = "invalid_transition"
	CodeConflict          = "conflict"
	CodeInvalidCode       = "invalid_code"
	CodeAlreadyConfirmed  = "already_confirmed"
	CodePaymentRequired   = "payment_required"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrBadRequest, CodeBadRequest},
	{ErrNotPermitted, CodeNotPermitted},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrConflict, CodeConflict},
	{ErrInvalidCode, CodeInvalidCode},
	{ErrAlreadyConfirmed, CodeAlreadyConfirmed},
	{ErrPaymentRequired, CodePaymentRequired},
	{ErrNotFound, CodeNotFound},
}

// ErrorCode returns the API code for err, CodeInternal when none matches.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// CodeError maps an API code back to its sentinel; nil for unknown codes.
func CodeError(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
