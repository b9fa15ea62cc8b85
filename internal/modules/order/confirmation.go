// README: Confirmation-code protocol primitives (generation, normalisation, matching, requester checks).
package order

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"

	"github.com/go-faster/errors"

	"dukani/internal/types"
)

// CodeLength is the fixed length of a delivery confirmation code.
const CodeLength = 8

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns a random uppercase alphanumeric code of CodeLength.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeCode trims surrounding whitespace and upper-cases the code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCodeFormat checks a submitted code after normalisation.
func ValidateCodeFormat(code string) error {
	c := NormalizeCode(code)
	if len(c) != CodeLength {
		return errors.Wrapf(ErrBadRequest, "confirmation code must be %d characters", CodeLength)
	}
	for _, r := range c {
		if !strings.ContainsRune(codeAlphabet, r) {
			return errors.Wrap(ErrBadRequest, "confirmation code must be alphanumeric")
		}
	}
	return nil
}

// MatchCode compares a stored code with a submitted one, case-insensitively
// and ignoring surrounding whitespace.
func MatchCode(stored, submitted string) bool {
	a := NormalizeCode(stored)
	b := NormalizeCode(submitted)
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// confirmableStatuses are the states from which the customer may ask for a code.
var confirmableStatuses = []SuborderStatus{SubInTransit, SubDelivered}

// CheckConfirmationRequest validates that user may request the confirmation
// code of sub. Admins may only do so while viewing as the customer.
func CheckConfirmationRequest(user types.ActingUser, o *Order, sub *Suborder) error {
	if user.EffectiveRole() != types.RoleCustomer {
		return errors.Wrapf(ErrNotPermitted, "role %q may not request delivery confirmation", user.EffectiveRole())
	}
	if !user.Impersonating() && o.BuyerID != user.ID {
		return errors.Wrap(ErrNotPermitted, "order belongs to another customer")
	}
	if sub.Delivery.RiderConfirmedAt != nil || sub.Status == SubConfirmed {
		return ErrAlreadyConfirmed
	}
	if !containsStatus(confirmableStatuses, sub.Status) {
		return errors.Wrapf(ErrInvalidTransition, "cannot confirm delivery while %s", sub.Status)
	}
	return nil
}
