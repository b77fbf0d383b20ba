// Package notify publishes customer-facing order status changes. Delivery
// (email, push) is owned by whoever consumes order.status.changed.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type KafkaNotifier struct {
	pub     Publisher
	service string
	now     func() time.Time
}

func NewKafkaNotifier(pub Publisher, service string) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, service: service, now: time.Now}
}

// OrderStatusChanged wraps ev in an envelope keyed by order id. Publishing is
// buffered, so the only error is a marshal failure.
func (n *KafkaNotifier) OrderStatusChanged(ctx context.Context, ev orders.OrderStatusChangedPayload) error {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderStatusChanged,
		EventVersion:  1,
		OccurredAt:    n.now().UTC(),
		Producer:      n.service,
		TraceID:       traceID(ctx),
		CorrelationID: ev.OrderID,
		Payload:       kafkax.MustMarshal(ev),
	}
	n.pub.Publish(orders.PartitionKey(ev.OrderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}
