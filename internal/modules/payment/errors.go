// README: Payment errors; handlers render them as {"error": ...}.
package payment

import "github.com/go-faster/errors"

var (
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidPhone   = errors.New("invalid phone number")
	ErrAmountMismatch = errors.New("amount does not match order total")
	ErrAlreadyPaid    = errors.New("order already paid")
	ErrGateway        = errors.New("payment gateway error")
)
