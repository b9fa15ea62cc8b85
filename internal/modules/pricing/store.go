// README: Per-vendor commission overrides backed by PostgreSQL.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dukani/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// CommissionRate returns the vendor's negotiated rate. ok is false when the
// vendor has no override.
func (s *Store) CommissionRate(ctx context.Context, vendorID types.ID) (rate decimal.Decimal, ok bool, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT rate FROM vendor_commission_rates WHERE vendor_id = $1`,
		string(vendorID),
	).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, errors.Wrap(err, "query commission rate")
	}
	return rate, true, nil
}

func (s *Store) SetCommissionRate(ctx context.Context, vendorID types.ID, rate decimal.Decimal) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vendor_commission_rates (vendor_id, rate) VALUES ($1, $2)
		ON CONFLICT (vendor_id) DO UPDATE SET rate = EXCLUDED.rate`,
		string(vendorID), rate,
	)
	return errors.Wrap(err, "upsert commission rate")
}
