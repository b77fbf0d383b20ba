package fulfillment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

// CancellationWorker cancels the shipment upstream and gives the stock back.
type CancellationWorker struct {
	store     OrderStore
	gw        Gateway
	scheduler *TrackingScheduler
}

func NewCancellationWorker(store OrderStore, gw Gateway, scheduler *TrackingScheduler) *CancellationWorker {
	return &CancellationWorker{store: store, gw: gw, scheduler: scheduler}
}

func (w *CancellationWorker) Handler() queue.Handler {
	return queue.Handle(func(ctx context.Context, _ *queue.Job, p CancellationJob) error {
		if err := w.Process(ctx, p); err != nil {
			return classify(err)
		}
		return nil
	})
}

func (w *CancellationWorker) Process(ctx context.Context, p CancellationJob) error {
	log := zerolog.Ctx(ctx).With().Str("order_id", p.Order.ID).Str("awb", p.AWBNumber).Logger()

	confirmed, err := w.gw.Cancel(ctx, p.ShipmentOrderID, p.AWBNumber)
	if err != nil {
		return fmt.Errorf("cancel shipment: %w", err)
	}
	if !confirmed {
		return fmt.Errorf("cancel shipment: %w", &shipping.GatewayError{Op: "cancel_order", Message: "not confirmed"})
	}

	if _, err := w.scheduler.Remove(ctx, p.Order.ID); err != nil {
		return fmt.Errorf("remove tracking schedule: %w", err)
	}
	restored, err := w.store.RestoreStock(ctx, p.Order.ID, p.Order.StockLines())
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	log.Info().Bool("stock_restored", restored).Msg("shipment cancelled")
	return nil
}
