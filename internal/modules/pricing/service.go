// README: Pricing service splits a cart into vendor amounts, commission and fees.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"dukani/internal/types"
)

// ErrInvalidRate rejects commission rates outside [0, 1).
var ErrInvalidRate = errors.New("commission rate must be at least 0 and below 1")

// ErrOverridesDisabled is returned when no override store is configured.
var ErrOverridesDisabled = errors.New("commission overrides are not configured")

// RateSource looks up vendor-specific commission overrides.
type RateSource interface {
	CommissionRate(ctx context.Context, vendorID types.ID) (decimal.Decimal, bool, error)
}

// RateWriter is a RateSource that also stores overrides.
type RateWriter interface {
	RateSource
	SetCommissionRate(ctx context.Context, vendorID types.ID, rate decimal.Decimal) error
}

type Service struct {
	rates Rates
	store RateSource
}

// NewService builds a pricing service. store may be nil, in which case every
// vendor pays the default commission.
func NewService(rates Rates, store RateSource) *Service {
	if rates.Currency == "" {
		rates.Currency = "KES"
	}
	return &Service{rates: rates, store: store}
}

// Quote prices a cart already grouped by vendor. Money is rounded to cents.
func (s *Service) Quote(ctx context.Context, lines []Line) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, errors.New("empty cart")
	}
	q := Quote{
		PlatformFee: s.rates.PlatformFee.Round(2),
		ShippingFee: s.rates.ShippingFee.Round(2),
		Currency:    s.rates.Currency,
	}
	total := q.PlatformFee.Add(q.ShippingFee)
	for _, l := range lines {
		if l.Subtotal.IsNegative() {
			return Quote{}, errors.Errorf("negative subtotal for vendor %s", l.VendorID)
		}
		rate, err := s.commissionRate(ctx, l.VendorID)
		if err != nil {
			return Quote{}, err
		}
		amount := l.Subtotal.Round(2)
		commission := amount.Mul(rate).Round(2)
		q.Vendors = append(q.Vendors, VendorQuote{
			VendorID:   l.VendorID,
			Amount:     amount,
			Commission: commission,
			NetAmount:  amount.Sub(commission),
		})
		total = total.Add(amount)
	}
	q.Total = total
	return q, nil
}

func (s *Service) commissionRate(ctx context.Context, vendorID types.ID) (decimal.Decimal, error) {
	if s.store == nil {
		return s.rates.CommissionRate, nil
	}
	rate, ok, err := s.store.CommissionRate(ctx, vendorID)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "commission rate for %s", vendorID)
	}
	if !ok {
		return s.rates.CommissionRate, nil
	}
	return rate, nil
}

// SetCommissionRate stores a vendor override; later quotes use it.
func (s *Service) SetCommissionRate(ctx context.Context, vendorID types.ID, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Wrapf(ErrInvalidRate, "got %s", rate)
	}
	w, ok := s.store.(RateWriter)
	if !ok {
		return ErrOverridesDisabled
	}
	if err := w.SetCommissionRate(ctx, vendorID, rate); err != nil {
		return errors.Wrapf(err, "commission rate for %s", vendorID)
	}
	return nil
}
