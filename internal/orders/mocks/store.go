package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Store is an in-memory stand-in for orders.Repo with the same conditional
// write semantics, including the guarded stock decrement and the movement
// ledger.
type Store struct {
	mu        sync.Mutex
	orders    map[string]*orders.Order
	variants  map[variantKey]*inventory.Variant
	movements map[string]bool

	// For tracking calls in tests
	CommitCalls   int
	TrackingCalls int
	RestoreCalls  int

	// CommitErr, when set, is returned by CommitFulfillment before any write.
	CommitErr error
	// CommitErrAfterHook fails CommitFulfillment after inTx ran, as a failed
	// COMMIT would.
	CommitErrAfterHook error
	// CancelErr, when set, is returned by MarkCancelled before any write.
	CancelErr error
	// BeforeTrackingWrite runs inside ApplyTracking before the version check.
	BeforeTrackingWrite func(id string)
}

type variantKey struct {
	productID string
	weight    int
}

func NewStore() *Store {
	return &Store{
		orders:    make(map[string]*orders.Order),
		variants:  make(map[variantKey]*inventory.Variant),
		movements: make(map[string]bool),
	}
}

func (s *Store) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return orders.ErrAlreadyExists
	}
	c := o.Clone()
	if c.OrderStatus == "" {
		c.OrderStatus = orders.StatusPending
	}
	if c.PaymentStatus == "" {
		c.PaymentStatus = orders.PaymentPending
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.orders[o.ID] = c
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *Store) ConfirmPayment(_ context.Context, id, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, orders.ErrNotFound
	}
	if o.PaymentStatus == orders.PaymentCompleted || o.OrderStatus != orders.StatusPending {
		return false, nil
	}
	o.PaymentStatus = orders.PaymentCompleted
	o.PaymentID = paymentID
	o.OrderStatus = orders.StatusConfirmed
	s.touch(o)
	return true, nil
}

func (s *Store) CommitFulfillment(ctx context.Context, id string, expectedVersion int, c orders.CourierInfo, inTx func(context.Context) error) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommitCalls++
	if s.CommitErr != nil {
		return nil, s.CommitErr
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if o.OrderStatus == orders.StatusCancelled {
		return nil, orders.ErrAlreadyCancelled
	}
	if o.Version != expectedVersion {
		return nil, orders.ErrConcurrencyConflict
	}

	// Stage on copies so a failure leaves nothing behind.
	staged := s.snapshotVariants()
	key := movementKey(id, inventory.MovementFulfilled)
	if !s.movements[key] {
		if err := decrement(staged, o.StockLines()); err != nil {
			return nil, err
		}
	}
	if inTx != nil {
		if err := inTx(ctx); err != nil {
			return nil, err
		}
	}
	if s.CommitErrAfterHook != nil {
		return nil, s.CommitErrAfterHook
	}

	s.variants = staged
	s.movements[key] = true
	ci := c
	o.Courier = &ci
	s.touch(o)
	return o.Clone(), nil
}

func (s *Store) ApplyTracking(_ context.Context, id string, expectedVersion int, u orders.TrackingUpdate) (*orders.Order, error) {
	if s.BeforeTrackingWrite != nil {
		s.BeforeTrackingWrite(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TrackingCalls++
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if o.OrderStatus == orders.StatusCancelled {
		return nil, orders.ErrAlreadyCancelled
	}
	if o.Version != expectedVersion || o.OrderStatus.Terminal() {
		return nil, orders.ErrConcurrencyConflict
	}
	o.OrderStatus = u.Status
	if u.EstimatedDeliveryDate != nil {
		if o.Courier == nil {
			o.Courier = &orders.CourierInfo{}
		}
		eta := *u.EstimatedDeliveryDate
		o.Courier.EstimatedDeliveryDate = &eta
	}
	o.TrackingHistory, _ = orders.AppendTracking(o.TrackingHistory, u.Entry)
	s.touch(o)
	return o.Clone(), nil
}

func (s *Store) MarkCancelled(_ context.Context, id string, expectedVersion int) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CancelErr != nil {
		return nil, s.CancelErr
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	switch {
	case o.OrderStatus == orders.StatusCancelled:
		return nil, orders.ErrAlreadyCancelled
	case o.OrderStatus.Terminal():
		return nil, orders.ErrInvalidTransition
	case o.Version != expectedVersion:
		return nil, orders.ErrConcurrencyConflict
	}
	o.OrderStatus = orders.StatusCancelled
	s.touch(o)
	return o.Clone(), nil
}

func (s *Store) RestoreStock(_ context.Context, id string, lines []inventory.Line) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RestoreCalls++
	if !s.movements[movementKey(id, inventory.MovementFulfilled)] {
		return false, nil
	}
	key := movementKey(id, inventory.MovementRestored)
	if s.movements[key] {
		return false, nil
	}
	for _, it := range lines {
		if v, ok := s.variants[variantKey{it.ProductID, it.VariantWeight}]; ok {
			v.Stock += it.Quantity
			v.Sold = max(v.Sold-it.Quantity, 0)
		}
	}
	s.movements[key] = true
	return true, nil
}

// PutVariant seeds a variant.
func (s *Store) PutVariant(v inventory.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := v
	s.variants[variantKey{v.ProductID, v.Weight}] = &c
}

func (s *Store) Variant(productID string, weight int) (inventory.Variant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantKey{productID, weight}]
	if !ok {
		return inventory.Variant{}, false
	}
	return *v, true
}

// Bump simulates a concurrent writer by advancing the order version.
func (s *Store) Bump(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		s.touch(o)
	}
}

func (s *Store) touch(o *orders.Order) {
	o.Version++
	o.UpdatedAt = time.Now()
}

func (s *Store) snapshotVariants() map[variantKey]*inventory.Variant {
	out := make(map[variantKey]*inventory.Variant, len(s.variants))
	for k, v := range s.variants {
		c := *v
		out[k] = &c
	}
	return out
}

func decrement(vs map[variantKey]*inventory.Variant, lines []inventory.Line) error {
	for _, it := range lines {
		v, ok := vs[variantKey{it.ProductID, it.VariantWeight}]
		if !ok || v.Stock < it.Quantity {
			return fmt.Errorf("%w: product %s variant %dg qty %d", inventory.ErrInsufficientStock, it.ProductID, it.VariantWeight, it.Quantity)
		}
		v.Stock -= it.Quantity
		v.Sold += it.Quantity
	}
	return nil
}

func movementKey(orderID string, kind inventory.Movement) string {
	return orderID + "|" + string(kind)
}
