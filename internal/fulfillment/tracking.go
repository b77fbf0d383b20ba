package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
)

// TrackingWorker handles one firing of an order's recurring tracking job.
type TrackingWorker struct {
	store     OrderStore
	gw        Gateway
	scheduler *TrackingScheduler
	notifier  Notifier
	metrics   Metrics
	now       func() time.Time
}

func NewTrackingWorker(store OrderStore, gw Gateway, scheduler *TrackingScheduler, notifier Notifier, metrics Metrics) *TrackingWorker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TrackingWorker{store: store, gw: gw, scheduler: scheduler, notifier: notifier, metrics: metrics, now: time.Now}
}

func (w *TrackingWorker) Handler() queue.Handler {
	return queue.Handle(func(ctx context.Context, _ *queue.Job, p TrackingJob) error {
		if err := w.Process(ctx, p); err != nil {
			return classify(err)
		}
		return nil
	})
}

// Process polls the carrier once. A concurrent writer winning the CAS drops
// this firing's update; the next firing re-reads and converges.
func (w *TrackingWorker) Process(ctx context.Context, p TrackingJob) error {
	log := zerolog.Ctx(ctx).With().Str("order_id", p.OrderID).Str("awb", p.AWBNumber).Logger()

	active, err := w.scheduler.Active(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("check schedule: %w", err)
	}
	if !active {
		log.Debug().Msg("tracking schedule gone; skipping firing")
		return nil
	}

	o, err := w.store.Get(ctx, p.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		log.Warn().Msg("order gone; stopping tracking")
		return w.stop(ctx, p.OrderID)
	}
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if o.OrderStatus.Terminal() {
		log.Info().Str("status", string(o.OrderStatus)).Msg("order already terminal; stopping tracking")
		return w.stop(ctx, p.OrderID)
	}

	tr, err := w.gw.Track(ctx, p.AWBNumber)
	if err != nil {
		return fmt.Errorf("track shipment: %w", err)
	}
	next := orders.MapCarrierStatus(tr.CurrentStatus)
	terminal := next.Terminal() || orders.CarrierTerminal(tr.CurrentStatus)

	if !orders.NeedsTrackingUpdate(o, next) {
		log.Debug().Str("status", string(next)).Msg("status unchanged")
		if terminal {
			return w.stop(ctx, p.OrderID)
		}
		return nil
	}
	if !orders.CanTransition(o.OrderStatus, next) {
		log.Warn().
			Str("from", string(o.OrderStatus)).
			Str("to", string(next)).
			Str("carrier_status", tr.CurrentStatus).
			Msg("ignoring backward carrier status")
		return nil
	}

	at := w.now().UTC()
	if tr.StatusTime != nil {
		at = tr.StatusTime.UTC()
	}
	upd := orders.TrackingUpdate{
		Status:                next,
		EstimatedDeliveryDate: tr.ExpectedDeliveryDate,
		Entry: orders.TrackingEntry{
			Status:        next,
			CarrierStatus: tr.CurrentStatus,
			Location:      tr.Location,
			Timestamp:     at,
		},
	}
	saved, err := w.store.ApplyTracking(ctx, o.ID, o.Version, upd)
	switch {
	case errors.Is(err, orders.ErrConcurrencyConflict), errors.Is(err, orders.ErrAlreadyCancelled):
		w.metrics.TrackingConflict()
		log.Warn().Err(err).Int("expected_version", o.Version).Msg("tracking update lost the race; next firing reconciles")
		return nil
	case err != nil:
		return fmt.Errorf("apply tracking: %w", err)
	}
	log.Info().Str("status", string(next)).Str("carrier_status", tr.CurrentStatus).Int("version", saved.Version).Msg("order status updated")

	awb := p.AWBNumber
	if saved.Courier != nil && saved.Courier.AWBNumber != "" {
		awb = saved.Courier.AWBNumber
	}
	if err := w.notifier.OrderStatusChanged(ctx, orders.OrderStatusChangedPayload{
		OrderID:       o.ID,
		Status:        next,
		CarrierStatus: tr.CurrentStatus,
		AWBNumber:     awb,
		UserEmail:     p.UserEmail,
		UserName:      p.UserName,
		ChangedAt:     at,
	}); err != nil {
		log.Warn().Err(err).Msg("notify customer")
	}

	if terminal {
		return w.stop(ctx, p.OrderID)
	}
	return nil
}

func (w *TrackingWorker) stop(ctx context.Context, orderID string) error {
	removed, err := w.scheduler.Remove(ctx, orderID)
	if err != nil {
		return fmt.Errorf("remove tracking schedule: %w", err)
	}
	if removed {
		zerolog.Ctx(ctx).Info().Str("order_id", orderID).Msg("tracking schedule removed")
	}
	return nil
}
