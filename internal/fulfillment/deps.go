package fulfillment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

// OrderStore is satisfied by *orders.Repo and mocks.Store.
type OrderStore interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	ConfirmPayment(ctx context.Context, id, paymentID string) (bool, error)
	CommitFulfillment(ctx context.Context, id string, expectedVersion int, c orders.CourierInfo, inTx func(context.Context) error) (*orders.Order, error)
	ApplyTracking(ctx context.Context, id string, expectedVersion int, u orders.TrackingUpdate) (*orders.Order, error)
	MarkCancelled(ctx context.Context, id string, expectedVersion int) (*orders.Order, error)
	RestoreStock(ctx context.Context, id string, lines []inventory.Line) (bool, error)
}

type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*redisx.Lease, bool, error)
	Release(ctx context.Context, lease *redisx.Lease) error
}

// Gateway is the subset of *shipping.Client the workers call.
type Gateway interface {
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (string, error)
	AssignCourier(ctx context.Context, shipmentOrderID, courierID string) (shipping.Assignment, error)
	Track(ctx context.Context, awb string) (shipping.Tracking, error)
	Cancel(ctx context.Context, shipmentOrderID, awb string) (bool, error)
	CheckServiceability(ctx context.Context, pickup, delivery string) (bool, error)
	Rates(ctx context.Context, req shipping.RateRequest) ([]shipping.Rate, error)
}

// Notifier delivers customer-facing status changes. Failures never fail a job.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, ev orders.OrderStatusChangedPayload) error
}

type Metrics interface {
	LockContention()
	TrackingConflict()
}

type CourierIDs interface {
	Put(ctx context.Context, orderID, courierID string) error
	Get(ctx context.Context, orderID string) (string, error)
	Delete(ctx context.Context, orderID string) error
}

type ServiceabilityCache interface {
	Get(ctx context.Context, pincode string) (ok bool, found bool, err error)
	Put(ctx context.Context, pincode string, ok bool) error
}

type nopNotifier struct{}

func (nopNotifier) OrderStatusChanged(context.Context, orders.OrderStatusChangedPayload) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) LockContention()   {}
func (nopMetrics) TrackingConflict() {}
