package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

// PaymentHandler consumes payment.confirmed events from the payment
// collaborator.
type PaymentHandler struct {
	Service     *Service
	Redis       redis.Cmdable
	ServiceName string
}

// HandlePaymentConfirmed confirms the order and, when rate shopping already
// left a courier id, queues fulfillment straight away.
func (h *PaymentHandler) HandlePaymentConfirmed(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventPaymentConfirmed {
		return nil
	}

	// 2) dedup by event id; marked only after the event is handled
	dkey := fmt.Sprintf(redisx.KeyDedup, h.ServiceName, env.EventID)
	if seen, _ := redisx.Exists(ctx, h.Redis, dkey); seen {
		return nil
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.PaymentConfirmedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.OrderID == "" {
		return fmt.Errorf("payment event %s: order_id missing", env.EventID)
	}

	if _, err := h.Service.ConfirmPayment(ctx, p.OrderID, p.PaymentID); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			h.Service.log.Warn().Str("order_id", p.OrderID).Msg("payment for unknown order")
			return nil
		}
		return err
	}

	_, _, err = h.Service.RequestFulfillment(ctx, FulfillmentRequest{OrderID: p.OrderID, UserName: p.UserName, UserEmail: p.UserEmail})
	switch {
	case errors.Is(err, ErrUpstreamDataMissing):
		h.Service.log.Info().Str("order_id", p.OrderID).Msg("no courier id yet; waiting for explicit fulfillment request")
	case errors.Is(err, ErrNotConfirmed):
		h.Service.log.Warn().Err(err).Str("order_id", p.OrderID).Msg("fulfillment not queued")
	case err != nil:
		return err
	}

	if _, err := redisx.MarkOnce(ctx, h.Redis, dkey, redisx.TTLDedup); err != nil {
		h.Service.log.Warn().Err(err).Str("event_id", env.EventID).Msg("mark payment event handled")
	}
	return nil
}
