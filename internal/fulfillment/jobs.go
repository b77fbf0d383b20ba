package fulfillment

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
)

const (
	QueueFulfillment = "order-fulfillment"
	QueueTracking    = "order-tracking"
	QueueCancel      = "order-cancel"

	DefaultTrackingInterval = 5 * time.Hour
)

// FulfillmentJobID dedupes fulfillment requests per order.
func FulfillmentJobID(orderID string) string { return "order:" + orderID }

// TrackingKey is the repeat key of an order's tracking schedule.
func TrackingKey(orderID string) string { return "orderId:" + orderID }

func FulfillmentOptions(orderID string) queue.Options {
	return queue.Options{
		JobID:            FulfillmentJobID(orderID),
		Attempts:         5,
		Backoff:          10 * time.Second,
		RemoveOnComplete: time.Hour,
		RemoveOnFail:     24 * time.Hour,
	}
}

func TrackingOptions() queue.Options {
	return queue.Options{Attempts: 5, Backoff: 10 * time.Second}
}

func CancelOptions(orderID string) queue.Options {
	return queue.Options{
		JobID:            "cancel:" + orderID,
		Attempts:         5,
		Backoff:          10 * time.Second,
		RemoveOnComplete: time.Hour,
		RemoveOnFail:     24 * time.Hour,
	}
}

type FulfillmentJob struct {
	OrderID   string `json:"orderId"`
	CourierID string `json:"courierId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

func (FulfillmentJob) Kind() string { return "processOrder" }

// Validate leaves CourierID alone: a missing courier id is an upstream data
// problem reported by the worker, not a schema error.
func (p FulfillmentJob) Validate() error {
	if p.OrderID == "" {
		return errors.New("orderId required")
	}
	return nil
}

type TrackingJob struct {
	OrderID         string `json:"orderId"`
	AWBNumber       string `json:"awbNumber"`
	ExpectedVersion int    `json:"expectedVersion"`
	UserEmail       string `json:"userEmail"`
	UserName        string `json:"userName"`
}

func (TrackingJob) Kind() string { return "trackOrder" }

func (p TrackingJob) Validate() error {
	switch {
	case p.OrderID == "":
		return errors.New("orderId required")
	case p.AWBNumber == "":
		return errors.New("awbNumber required")
	case p.ExpectedVersion < 0:
		return fmt.Errorf("expectedVersion %d is negative", p.ExpectedVersion)
	}
	return nil
}

// OrderSnapshot is the part of the order the cancellation worker needs.
type OrderSnapshot struct {
	ID     string            `json:"id"`
	UserID string            `json:"userId"`
	Items  []orders.LineItem `json:"items"`
}

func snapshotOf(o *orders.Order) OrderSnapshot {
	return OrderSnapshot{ID: o.ID, UserID: o.UserID, Items: append([]orders.LineItem(nil), o.Items...)}
}

func (s OrderSnapshot) StockLines() []inventory.Line {
	o := orders.Order{Items: s.Items}
	return o.StockLines()
}

type CancellationJob struct {
	ShipmentOrderID string        `json:"shipmentOrderId"`
	AWBNumber       string        `json:"awbNumber"`
	Order           OrderSnapshot `json:"order"`
}

func (CancellationJob) Kind() string { return "cancelOrder" }

func (p CancellationJob) Validate() error {
	switch {
	case p.Order.ID == "":
		return errors.New("order.id required")
	case p.ShipmentOrderID == "" && p.AWBNumber == "":
		return errors.New("shipmentOrderId or awbNumber required")
	}
	for i, it := range p.Order.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return fmt.Errorf("order.items[%d] invalid", i)
		}
	}
	return nil
}
