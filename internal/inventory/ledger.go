package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// Line addresses a product variant by (ProductID, VariantWeight).
type Line struct {
	ProductID     string `json:"product_id"`
	VariantWeight int    `json:"variant_weight"`
	Quantity      int    `json:"quantity"`
}

type Variant struct {
	ProductID string `json:"product_id"`
	Weight    int    `json:"weight"`
	Price     int    `json:"price"`
	Stock     int    `json:"stock"`
	Sold      int    `json:"sold"`
}

// Movement names a stock adjustment recorded once per order.
type Movement string

const (
	MovementFulfilled Movement = "FULFILLED"
	MovementRestored  Movement = "RESTORED"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so every
// ledger call can join the caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger performs per-variant stock adjustments as single guarded UPDATEs.
// It never reads stock into the application to compute a new value.
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// Decrement moves quantity from stock to sold for every line. A line whose
// variant does not hold enough stock at write time fails the whole call with
// ErrInsufficientStock; callers are expected to run it inside a transaction.
func (l *Ledger) Decrement(ctx context.Context, q Querier, lines []Line) error {
	for _, it := range lines {
		if it.Quantity <= 0 {
			return fmt.Errorf("invalid quantity %d for %s/%d", it.Quantity, it.ProductID, it.VariantWeight)
		}
		ct, err := q.Exec(ctx, `
			UPDATE product_variants
			SET stock = stock - $3, sold = sold + $3, updated_at = now()
			WHERE product_id = $1 AND weight = $2 AND stock >= $3`,
			it.ProductID, it.VariantWeight, it.Quantity)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("%w: product %s variant %dg qty %d", ErrInsufficientStock, it.ProductID, it.VariantWeight, it.Quantity)
		}
	}
	return nil
}

// Restore reverses Decrement. It is additive and carries no stock guard;
// sold is floored at zero.
func (l *Ledger) Restore(ctx context.Context, q Querier, lines []Line) error {
	for _, it := range lines {
		if _, err := q.Exec(ctx, `
			UPDATE product_variants
			SET stock = stock + $3, sold = GREATEST(sold - $3, 0), updated_at = now()
			WHERE product_id = $1 AND weight = $2`,
			it.ProductID, it.VariantWeight, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Claim records that kind has been applied to orderID. It returns false when
// the movement was already recorded, in which case the caller must skip it.
func (l *Ledger) Claim(ctx context.Context, q Querier, orderID string, kind Movement) (bool, error) {
	ct, err := q.Exec(ctx, `
		INSERT INTO stock_movements(order_id, kind) VALUES ($1, $2)
		ON CONFLICT (order_id, kind) DO NOTHING`, orderID, string(kind))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (l *Ledger) Get(ctx context.Context, q Querier, productID string, weight int) (Variant, error) {
	v := Variant{ProductID: productID, Weight: weight}
	err := q.QueryRow(ctx, `
		SELECT price, stock, sold FROM product_variants
		WHERE product_id = $1 AND weight = $2`, productID, weight).Scan(&v.Price, &v.Stock, &v.Sold)
	return v, err
}

// Recorded reports whether kind was already applied to orderID.
func (l *Ledger) Recorded(ctx context.Context, q Querier, orderID string, kind Movement) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM stock_movements WHERE order_id = $1 AND kind = $2)`,
		orderID, string(kind)).Scan(&ok)
	return ok, err
}

// Put seeds or replaces a variant row.
func (l *Ledger) Put(ctx context.Context, q Querier, v Variant) error {
	_, err := q.Exec(ctx, `
		INSERT INTO product_variants(product_id, weight, price, stock, sold)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, weight) DO UPDATE
		SET price = EXCLUDED.price, stock = EXCLUDED.stock, sold = EXCLUDED.sold, updated_at = now()`,
		v.ProductID, v.Weight, v.Price, v.Stock, v.Sold)
	return err
}
