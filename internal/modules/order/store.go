// README: Order store backed by PostgreSQL; suborder and order status writes are compare-and-swap.
package order

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dukani/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal items")
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return errors.Wrap(err, "marshal shipping")
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, order_ref, buyer_id, items, total_amount, platform_fee,
				shipping_fee, delivery_fee_total, currency, payment_method,
				payment_status, mpesa_transaction_id, checkout_request_id,
				shipping_address, status, status_version, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10,
				$11, NULLIF($12, ''), NULLIF($13, ''),
				$14, $15, $16, $17, $18
			)`,
			string(o.ID), o.OrderID, string(o.BuyerID), items, o.TotalAmount, o.PlatformFee,
			o.ShippingFee, o.DeliveryFeeTotal, o.Currency, o.Payment.Method,
			string(o.Payment.Status), o.Payment.MpesaTransaction, o.Payment.CheckoutRequestID,
			shipping, string(o.Status), o.StatusVersion, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
		for i := range o.Suborders {
			sub := &o.Suborders[i]
			_, err := tx.Exec(ctx, `
				INSERT INTO suborders (
					id, order_id, position, vendor_id, shop_id, rider_id,
					amount, commission, net_amount, delivery_fee, rider_payout_status,
					status, status_version, pickup_address, dropoff_address,
					estimated_time, actual_time, notes, confirmation_code,
					rider_confirmed_at, updated_at
				) VALUES (
					$1, $2, $3, $4, $5, $6,
					$7, $8, $9, $10, $11,
					$12, $13, $14, $15,
					$16, $17, $18, $19,
					$20, $21
				)`,
				string(sub.ID), string(o.ID), i, string(sub.VendorID), string(sub.ShopID), riderPtr(sub.Rider),
				sub.Amount, sub.Commission, sub.NetAmount, sub.DeliveryFee, string(sub.RiderPayoutStatus),
				string(sub.Status), sub.StatusVersion, sub.Delivery.PickupAddress, sub.Delivery.DropoffAddress,
				sub.Delivery.EstimatedTime, sub.Delivery.ActualTime, sub.Delivery.Notes, sub.Delivery.ConfirmationCode,
				sub.Delivery.RiderConfirmedAt, sub.UpdatedAt,
			)
			if err != nil {
				return errors.Wrapf(err, "insert suborder %d", i)
			}
		}
		return nil
	})
}

const orderColumns = `
	id, order_ref, buyer_id, items, total_amount, platform_fee,
	shipping_fee, delivery_fee_total, currency, payment_method,
	payment_status, COALESCE(mpesa_transaction_id, ''), COALESCE(checkout_request_id, ''),
	shipping_address, status, status_version, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var items, shipping []byte
	err := row.Scan(
		&o.ID, &o.OrderID, &o.BuyerID, &items, &o.TotalAmount, &o.PlatformFee,
		&o.ShippingFee, &o.DeliveryFeeTotal, &o.Currency, &o.Payment.Method,
		&o.Payment.Status, &o.Payment.MpesaTransaction, &o.Payment.CheckoutRequestID,
		&shipping, &o.Status, &o.StatusVersion, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, errors.Wrap(err, "decode shipping address")
	}
	return &o, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
	if err != nil {
		return nil, err
	}
	if err := s.loadSuborders(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetByRef(ctx context.Context, ref string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_ref = $1`, ref))
	if err != nil {
		return nil, err
	}
	if err := s.loadSuborders(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetByCheckoutRequest(ctx context.Context, checkoutRequestID string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE checkout_request_id = $1`, checkoutRequestID))
	if err != nil {
		return nil, err
	}
	if err := s.loadSuborders(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListForUser returns orders the user takes part in, newest first.
func (s *Store) ListForUser(ctx context.Context, user types.ActingUser, limit int) ([]*Order, error) {
	var (
		where string
		args  = []any{limit}
	)
	switch user.EffectiveRole() {
	case types.RoleAdmin:
		where = "TRUE"
	case types.RoleCustomer:
		if user.Impersonating() {
			where = "TRUE"
			break
		}
		where = "buyer_id = $2"
		args = append(args, string(user.ID))
	case types.RoleVendor:
		where = "EXISTS (SELECT 1 FROM suborders so WHERE so.order_id = orders.id AND so.vendor_id = $2)"
		args = append(args, string(user.ID))
	case types.RoleDelivery:
		where = "EXISTS (SELECT 1 FROM suborders so WHERE so.order_id = orders.id AND so.rider_id = $2)"
		args = append(args, string(user.ID))
	default:
		return nil, ErrNotPermitted
	}

	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY created_at DESC LIMIT $1`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if err := s.loadSuborders(ctx, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadSuborders(ctx context.Context, o *Order) error {
	rows, err := s.db.Query(ctx, `
		SELECT id, vendor_id, shop_id, rider_id,
		       amount, commission, net_amount, delivery_fee, rider_payout_status,
		       status, status_version, pickup_address, dropoff_address,
		       estimated_time, actual_time, notes, confirmation_code,
		       rider_confirmed_at, updated_at
		FROM suborders
		WHERE order_id = $1
		ORDER BY position`, string(o.ID),
	)
	if err != nil {
		return errors.Wrap(err, "query suborders")
	}
	defer rows.Close()

	o.Suborders = o.Suborders[:0]
	for rows.Next() {
		var sub Suborder
		var riderID *string
		err := rows.Scan(
			&sub.ID, &sub.VendorID, &sub.ShopID, &riderID,
			&sub.Amount, &sub.Commission, &sub.NetAmount, &sub.DeliveryFee, &sub.RiderPayoutStatus,
			&sub.Status, &sub.StatusVersion, &sub.Delivery.PickupAddress, &sub.Delivery.DropoffAddress,
			&sub.Delivery.EstimatedTime, &sub.Delivery.ActualTime, &sub.Delivery.Notes, &sub.Delivery.ConfirmationCode,
			&sub.Delivery.RiderConfirmedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "scan suborder")
		}
		if riderID != nil {
			sub.Rider = &RiderRef{ID: types.ID(*riderID)}
		}
		o.Suborders = append(o.Suborders, sub)
	}
	return rows.Err()
}

// UpdateSuborder writes next if the stored suborder is still at from/version
// and refreshes the order's delivery fee total in the same transaction.
func (s *Store) UpdateSuborder(ctx context.Context, orderID types.ID, next *Suborder, from SuborderStatus, version int) (bool, error) {
	won := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE suborders
			SET status = $1,
			    status_version = status_version + 1,
			    rider_id = $2,
			    delivery_fee = $3,
			    estimated_time = $4,
			    actual_time = $5,
			    notes = $6,
			    confirmation_code = $7,
			    rider_confirmed_at = $8,
			    updated_at = $9
			WHERE id = $10 AND order_id = $11 AND status = $12 AND status_version = $13`,
			string(next.Status),
			riderPtr(next.Rider),
			next.DeliveryFee,
			next.Delivery.EstimatedTime,
			next.Delivery.ActualTime,
			next.Delivery.Notes,
			next.Delivery.ConfirmationCode,
			next.Delivery.RiderConfirmedAt,
			next.UpdatedAt,
			string(next.ID),
			string(orderID),
			string(from),
			version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		won = true
		_, err = tx.Exec(ctx, `
			UPDATE orders
			SET delivery_fee_total = (SELECT COALESCE(SUM(delivery_fee), 0) FROM suborders WHERE order_id = $1),
			    updated_at = $2
			WHERE id = $1`,
			string(orderID), next.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(to),
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelOrder cancels the order and all of its open suborders atomically.
func (s *Store) CancelOrder(ctx context.Context, id types.ID, from Status, version int) (bool, error) {
	won := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET status = $1,
			    status_version = status_version + 1,
			    updated_at = NOW()
			WHERE id = $2 AND status = $3 AND status_version = $4`,
			string(StatusCancelled),
			string(id),
			string(from),
			version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		won = true
		_, err = tx.Exec(ctx, `
			UPDATE suborders
			SET status = $1,
			    status_version = status_version + 1,
			    updated_at = NOW()
			WHERE order_id = $2 AND status NOT IN ($3, $1)`,
			string(SubCancelled),
			string(id),
			string(SubConfirmed),
		)
		return err
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (s *Store) UpdatePayment(ctx context.Context, id types.ID, p Payment) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1,
		    mpesa_transaction_id = COALESCE(NULLIF($2, ''), mpesa_transaction_id),
		    checkout_request_id = COALESCE(NULLIF($3, ''), checkout_request_id),
		    updated_at = NOW()
		WHERE id = $4`,
		string(p.Status),
		p.MpesaTransaction,
		p.CheckoutRequestID,
		string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePayoutStatus(ctx context.Context, orderID, suborderID types.ID, st PayoutStatus) error {
	_, err := s.db.Exec(ctx, `
		UPDATE suborders SET rider_payout_status = $1, updated_at = NOW()
		WHERE id = $2 AND order_id = $3`,
		string(st), string(suborderID), string(orderID),
	)
	return err
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, suborder_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		toStringPtr(e.SuborderID),
		e.FromStatus,
		e.ToStatus,
		string(e.ActorType),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

// ListEvents returns the audit trail of an order, oldest first.
func (s *Store) ListEvents(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, suborder_id, from_status, to_status, actor_type, actor_id, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var subID, actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &subID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SuborderID = toIDPtr(subID)
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func riderPtr(r *RiderRef) *string {
	if r == nil {
		return nil
	}
	v := string(r.ID)
	return &v
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
