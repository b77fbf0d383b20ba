package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
)

// Repo persists OrderRecords. Every mutation after creation is a conditional
// write: either version-checked or guarded on the current status.
type Repo struct {
	DB     *pgxpool.Pool
	Ledger *inventory.Ledger
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{DB: db, Ledger: inventory.NewLedger()}
}

// Create inserts the order with its line-item snapshot.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := o.OrderStatus
	if status == "" {
		status = StatusPending
	}
	pay := o.PaymentStatus
	if pay == "" {
		pay = PaymentPending
	}
	ptype := o.PaymentType
	if ptype == "" {
		ptype = "PREPAID"
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, cart_id, amount_cents, payment_type, order_status, payment_status, shipping)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, o.CartID, o.AmountCents, ptype, string(status), string(pay), o.Shipping)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}

	for i, it := range o.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("invalid qty for product %s", it.ProductID)
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, product_name, category, variant_weight, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.ID, i+1, it.ProductID, it.ProductName, it.Category, it.VariantWeight, it.Quantity, it.UnitPrice,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Get assembles the order projection: row, line items and tracking history.
func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, r.DB, id)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repo) get(ctx context.Context, q queryer, id string) (*Order, error) {
	var (
		o                                 Order
		status, pay                       string
		paymentID, courier, awb, shipment *string
		eta                               *time.Time
	)
	o.ID = id
	err := q.QueryRow(ctx, `
		SELECT user_id, cart_id, amount_cents, payment_type, order_status, payment_status, payment_id,
		       shipping, courier_name, awb_number, estimated_delivery_date, shipment_order_id,
		       version, created_at, updated_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.UserID, &o.CartID, &o.AmountCents, &o.PaymentType, &status, &pay, &paymentID,
		&o.Shipping, &courier, &awb, &eta, &shipment,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.OrderStatus = Status(status)
	o.PaymentStatus = PaymentStatus(pay)
	o.PaymentID = deref(paymentID)
	if awb != nil || shipment != nil || courier != nil {
		o.Courier = &CourierInfo{
			CourierName:           deref(courier),
			AWBNumber:             deref(awb),
			ShipmentOrderID:       deref(shipment),
			EstimatedDeliveryDate: eta,
		}
	}

	rows, err := q.Query(ctx, `
		SELECT product_id, product_name, category, variant_weight, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Category, &it.VariantWeight, &it.Quantity, &it.UnitPrice); err != nil {
			rows.Close()
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT status, carrier_status, location, occurred_at
		FROM order_tracking WHERE order_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e  TrackingEntry
			st string
		)
		if err := rows.Scan(&st, &e.CarrierStatus, &e.Location, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Status = Status(st)
		o.TrackingHistory = append(o.TrackingHistory, e)
	}
	return &o, rows.Err()
}

// ConfirmPayment flips a PENDING order to CONFIRMED/COMPLETED. It returns
// false without error when the payment was already recorded.
func (r *Repo) ConfirmPayment(ctx context.Context, id, paymentID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET payment_status = 'COMPLETED', payment_id = $2, order_status = 'CONFIRMED',
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND payment_status <> 'COMPLETED' AND order_status = 'PENDING'`, id, paymentID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// CommitFulfillment writes courier info, applies the stock decrement once per
// order and runs inTx before committing. Any failure rolls back all three.
func (r *Repo) CommitFulfillment(ctx context.Context, id string, expectedVersion int, c CourierInfo, inTx func(context.Context) error) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET courier_name = $3, awb_number = $4, estimated_delivery_date = $5, shipment_order_id = $6,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND order_status <> 'CANCELLED'`,
		id, expectedVersion, c.CourierName, c.AWBNumber, c.EstimatedDeliveryDate, c.ShipmentOrderID)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() != 1 {
		return nil, r.conflict(ctx, tx, id)
	}

	o, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	claimed, err := r.Ledger.Claim(ctx, tx, id, inventory.MovementFulfilled)
	if err != nil {
		return nil, err
	}
	if claimed {
		if err := r.Ledger.Decrement(ctx, tx, o.StockLines()); err != nil {
			return nil, err
		}
	}
	if inTx != nil {
		if err := inTx(ctx); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyTracking is the tracking CAS: status and estimated delivery date move
// together with one history append. A history entry equal to the last one is
// not written.
func (r *Repo) ApplyTracking(ctx context.Context, id string, expectedVersion int, u TrackingUpdate) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET order_status = $3, estimated_delivery_date = COALESCE($4::timestamptz, estimated_delivery_date),
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND order_status NOT IN ('CANCELLED', 'DELIVERED')`,
		id, expectedVersion, string(u.Status), u.EstimatedDeliveryDate)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() != 1 {
		return nil, r.conflict(ctx, tx, id)
	}

	var last string
	err = tx.QueryRow(ctx, `
		SELECT status FROM order_tracking WHERE order_id = $1 ORDER BY seq DESC LIMIT 1`, id).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if Status(last) != u.Entry.Status {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_tracking(order_id, seq, status, carrier_status, location, occurred_at)
			SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5 FROM order_tracking WHERE order_id = $1`,
			id, string(u.Entry.Status), u.Entry.CarrierStatus, u.Entry.Location, u.Entry.Timestamp,
		); err != nil {
			return nil, err
		}
	}

	o, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return o, tx.Commit(ctx)
}

// MarkCancelled is the controller's CAS to CANCELLED.
func (r *Repo) MarkCancelled(ctx context.Context, id string, expectedVersion int) (*Order, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET order_status = 'CANCELLED', version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND order_status NOT IN ('CANCELLED', 'DELIVERED')`,
		id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() != 1 {
		o, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case o.OrderStatus == StatusCancelled:
			return nil, ErrAlreadyCancelled
		case o.OrderStatus.Terminal():
			return nil, ErrInvalidTransition
		}
		return nil, ErrConcurrencyConflict
	}
	return r.Get(ctx, id)
}

// RestoreStock reverses the fulfillment decrement at most once, and only if
// one was applied. It reports whether stock moved.
func (r *Repo) RestoreStock(ctx context.Context, id string, lines []inventory.Line) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fulfilled, err := r.Ledger.Recorded(ctx, tx, id, inventory.MovementFulfilled)
	if err != nil || !fulfilled {
		return false, err
	}
	claimed, err := r.Ledger.Claim(ctx, tx, id, inventory.MovementRestored)
	if err != nil || !claimed {
		return false, err
	}
	if err := r.Ledger.Restore(ctx, tx, lines); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repo) conflict(ctx context.Context, q queryer, id string) error {
	var status string
	err := q.QueryRow(ctx, `SELECT order_status FROM orders WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(status) == StatusCancelled {
		return ErrAlreadyCancelled
	}
	return ErrConcurrencyConflict
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
