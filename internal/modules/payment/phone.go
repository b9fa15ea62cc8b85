// README: Kenyan MSISDN normalisation for STK push.
package payment

import (
	"strings"
	"unicode"

	"github.com/go-faster/errors"
)

// NormalizePhone converts the local (07…, 01…, 7…) and international
// (+254…, 254…) forms of a Kenyan mobile number to 254XXXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && b.Len() == 0, r == ' ', r == '-':
		default:
			return "", errors.Wrapf(ErrInvalidPhone, "%q", raw)
		}
	}
	d := b.String()
	switch {
	case len(d) == 12 && strings.HasPrefix(d, "254"):
		d = d[3:]
	case len(d) == 10 && strings.HasPrefix(d, "0"):
		d = d[1:]
	case len(d) == 9:
	default:
		return "", errors.Wrapf(ErrInvalidPhone, "%q", raw)
	}
	if d[0] != '7' && d[0] != '1' {
		return "", errors.Wrapf(ErrInvalidPhone, "%q", raw)
	}
	return "254" + d, nil
}
