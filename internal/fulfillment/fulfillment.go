package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/retry"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

type FulfillmentConfig struct {
	LockTTL     time.Duration
	WarehouseID string
	// Retry wraps each gateway call; zero means retry.Gateway.
	Retry retry.Policy
}

// FulfillmentWorker turns a confirmed order into a shipment: push, assign a
// courier, then commit courier info, the stock decrement and the tracking
// schedule together.
type FulfillmentWorker struct {
	store     OrderStore
	locks     Locker
	gw        Gateway
	scheduler *TrackingScheduler
	cancel    queue.Typed[CancellationJob]
	metrics   Metrics
	cfg       FulfillmentConfig
}

// NewFulfillmentWorker takes the cancellation queue so a shipment created for
// an order cancelled mid-run can be cancelled upstream.
func NewFulfillmentWorker(store OrderStore, locks Locker, gw Gateway, scheduler *TrackingScheduler, cancellations *queue.Queue, metrics Metrics, cfg FulfillmentConfig) *FulfillmentWorker {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = redisx.TTLOrderLock
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Gateway
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &FulfillmentWorker{
		store:     store,
		locks:     locks,
		gw:        gw,
		scheduler: scheduler,
		cancel:    queue.NewTyped[CancellationJob](cancellations),
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Handler adapts the worker to a queue.Runner.
func (w *FulfillmentWorker) Handler() queue.Handler {
	return queue.Handle(func(ctx context.Context, _ *queue.Job, p FulfillmentJob) error {
		if err := w.Process(ctx, p); err != nil {
			return classify(err)
		}
		return nil
	})
}

func (w *FulfillmentWorker) Process(ctx context.Context, p FulfillmentJob) error {
	log := zerolog.Ctx(ctx).With().Str("order_id", p.OrderID).Logger()
	if p.CourierID == "" {
		return fmt.Errorf("%w: courier id missing for order %s", ErrUpstreamDataMissing, p.OrderID)
	}

	lease, ok, err := w.locks.TryAcquire(ctx, redisx.OrderLockKey(p.OrderID), w.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		w.metrics.LockContention()
		log.Warn().Msg("order lock held elsewhere")
		return ErrLockContention
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := w.locks.Release(rctx, lease); err != nil {
			log.Error().Err(err).Msg("release lock")
		}
	}()

	o, err := w.store.Get(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	switch {
	case o.OrderStatus == orders.StatusCancelled:
		return fmt.Errorf("fulfil %s: %w", o.ID, orders.ErrAlreadyCancelled)
	case o.Courier.Shipped():
		// Redelivered after a committed run.
		log.Info().Str("awb", o.Courier.AWBNumber).Msg("order already has a shipment")
		return nil
	}

	req := shipping.NewShipmentRequest(o, p.UserEmail, w.cfg.WarehouseID)
	shipmentID, err := retry.DoValue(ctx, w.cfg.Retry, func(ctx context.Context) (string, error) {
		return noRetryOnMissing(w.gw.CreateShipment(ctx, req))
	})
	if err != nil {
		return fmt.Errorf("create shipment: %w", err)
	}

	assigned, err := retry.DoValue(ctx, w.cfg.Retry, func(ctx context.Context) (shipping.Assignment, error) {
		return noRetryOnMissing(w.gw.AssignCourier(ctx, shipmentID, p.CourierID))
	})
	if err != nil {
		return fmt.Errorf("assign courier: %w", err)
	}
	if assigned.AWBNumber == "" {
		return fmt.Errorf("%w: no awb for shipment %s", ErrUpstreamDataMissing, shipmentID)
	}

	courier := orders.CourierInfo{
		CourierName:     assigned.CourierName,
		AWBNumber:       assigned.AWBNumber,
		ShipmentOrderID: shipmentID,
	}
	track := TrackingJob{
		OrderID:         o.ID,
		AWBNumber:       assigned.AWBNumber,
		ExpectedVersion: o.Version + 1,
		UserEmail:       p.UserEmail,
		UserName:        p.UserName,
	}
	scheduled := false
	_, err = w.store.CommitFulfillment(ctx, o.ID, o.Version, courier, func(ctx context.Context) error {
		if err := w.scheduler.Schedule(ctx, track); err != nil {
			return fmt.Errorf("schedule tracking: %w", err)
		}
		scheduled = true
		return nil
	})
	if err != nil {
		if scheduled {
			if _, rerr := w.scheduler.Remove(context.WithoutCancel(ctx), o.ID); rerr != nil {
				log.Error().Err(rerr).Msg("remove tracking schedule after failed commit")
			}
		}
		if errors.Is(err, orders.ErrAlreadyCancelled) {
			// Cancelled while the gateway calls ran: the shipment exists
			// upstream but no stock moved.
			w.cancelOrphan(ctx, log, o, courier)
		}
		return fmt.Errorf("commit fulfillment: %w", err)
	}

	log.Info().
		Str("shipment_order_id", shipmentID).
		Str("awb", assigned.AWBNumber).
		Str("courier", assigned.CourierName).
		Msg("order fulfilled")
	return nil
}

func (w *FulfillmentWorker) cancelOrphan(ctx context.Context, log zerolog.Logger, o *orders.Order, c orders.CourierInfo) {
	_, _, err := w.cancel.Add(context.WithoutCancel(ctx), CancellationJob{
		ShipmentOrderID: c.ShipmentOrderID,
		AWBNumber:       c.AWBNumber,
		Order:           snapshotOf(o),
	}, CancelOptions(o.ID))
	if err != nil {
		log.Error().Err(err).Str("awb", c.AWBNumber).Msg("enqueue cancellation for orphaned shipment")
		return
	}
	log.Warn().Str("awb", c.AWBNumber).Msg("order cancelled during fulfillment; shipment cancellation queued")
}

func noRetryOnMissing[T any](v T, err error) (T, error) {
	if errors.Is(err, shipping.ErrIncompleteResponse) {
		return v, retry.Permanent(err)
	}
	return v, err
}
