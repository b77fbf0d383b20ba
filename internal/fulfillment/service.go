package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

// Service is the synchronous controller side: it validates requests,
// performs the immediate writes and enqueues work for the workers.
type Service struct {
	store          OrderStore
	gw             Gateway
	couriers       CourierIDs
	serviceability ServiceabilityCache
	fulfil         queue.Typed[FulfillmentJob]
	cancel         queue.Typed[CancellationJob]
	scheduler      *TrackingScheduler
	log            zerolog.Logger
}

type ServiceDeps struct {
	Store          OrderStore
	Gateway        Gateway
	Couriers       CourierIDs
	Serviceability ServiceabilityCache
	Fulfillment    *queue.Queue
	Cancellation   *queue.Queue
	Scheduler      *TrackingScheduler
	Logger         zerolog.Logger
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		store:          d.Store,
		gw:             d.Gateway,
		couriers:       d.Couriers,
		serviceability: d.Serviceability,
		fulfil:         queue.NewTyped[FulfillmentJob](d.Fulfillment),
		cancel:         queue.NewTyped[CancellationJob](d.Cancellation),
		scheduler:      d.Scheduler,
		log:            d.Logger.With().Str("component", "fulfillment-service").Logger(),
	}
}

func (s *Service) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return s.store.Get(ctx, id)
}

// ConfirmPayment records a verified payment. It is idempotent: a repeat
// confirmation returns false.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, paymentID string) (bool, error) {
	ok, err := s.store.ConfirmPayment(ctx, orderID, paymentID)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info().Str("order_id", orderID).Str("payment_id", paymentID).Msg("payment confirmed")
	}
	return ok, nil
}

type FulfillmentRequest struct {
	OrderID   string
	UserName  string
	UserEmail string
}

// RequestFulfillment enqueues courier assignment using the courier id handed
// off by rate shopping. Without it nothing is enqueued.
func (s *Service) RequestFulfillment(ctx context.Context, r FulfillmentRequest) (string, bool, error) {
	courierID, err := s.couriers.Get(ctx, r.OrderID)
	if errors.Is(err, redisx.ErrCourierIDMissing) {
		return "", false, fmt.Errorf("%w: %v", ErrUpstreamDataMissing, err)
	}
	if err != nil {
		return "", false, err
	}
	o, err := s.store.Get(ctx, r.OrderID)
	if err != nil {
		return "", false, err
	}
	if o.OrderStatus != orders.StatusConfirmed || o.PaymentStatus != orders.PaymentCompleted {
		return "", false, fmt.Errorf("%w: status %s payment %s", ErrNotConfirmed, o.OrderStatus, o.PaymentStatus)
	}

	id, added, err := s.fulfil.Add(ctx, FulfillmentJob{
		OrderID:   o.ID,
		CourierID: courierID,
		UserName:  r.UserName,
		UserEmail: r.UserEmail,
	}, FulfillmentOptions(o.ID))
	if err != nil {
		return "", false, fmt.Errorf("enqueue fulfillment: %w", err)
	}
	if err := s.couriers.Delete(ctx, o.ID); err != nil {
		s.log.Warn().Err(err).Str("order_id", o.ID).Msg("drop courier id handoff")
	}
	s.log.Info().Str("order_id", o.ID).Str("job_id", id).Bool("added", added).Msg("fulfillment queued")
	return id, added, nil
}

const cancelCASAttempts = 3

// RequestCancel marks the order CANCELLED right away, then stops tracking.
// Upstream cancellation and the stock reversal happen later in the
// cancellation worker, and only for orders that were shipped.
func (s *Service) RequestCancel(ctx context.Context, orderID string) (*orders.Order, bool, error) {
	var (
		o   *orders.Order
		err error
	)
	for i := 0; i < cancelCASAttempts; i++ {
		o, err = s.store.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		switch o.OrderStatus {
		case orders.StatusCancelled:
			return nil, false, orders.ErrAlreadyCancelled
		case orders.StatusDelivered:
			return nil, false, fmt.Errorf("%w: order delivered", orders.ErrInvalidTransition)
		}
		var saved *orders.Order
		saved, err = s.store.MarkCancelled(ctx, o.ID, o.Version)
		if errors.Is(err, orders.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		o = saved
		break
	}
	if err != nil {
		return nil, false, err
	}
	// A firing that slips in before this sees a terminal order and stops.
	if _, err := s.scheduler.Remove(ctx, o.ID); err != nil {
		s.log.Warn().Err(err).Str("order_id", o.ID).Msg("remove tracking schedule")
	}

	if !o.Courier.Shipped() {
		s.log.Info().Str("order_id", o.ID).Msg("order cancelled before shipment")
		return o, false, nil
	}
	_, _, err = s.cancel.Add(ctx, CancellationJob{
		ShipmentOrderID: o.Courier.ShipmentOrderID,
		AWBNumber:       o.Courier.AWBNumber,
		Order:           snapshotOf(o),
	}, CancelOptions(o.ID))
	if err != nil {
		return o, false, fmt.Errorf("enqueue cancellation: %w", err)
	}
	s.log.Info().Str("order_id", o.ID).Str("awb", o.Courier.AWBNumber).Msg("cancellation queued")
	return o, true, nil
}

// CheckServiceability answers from cache when it can; the gateway answer is
// cached for a day.
func (s *Service) CheckServiceability(ctx context.Context, pincode string) (bool, error) {
	if ok, found, err := s.serviceability.Get(ctx, pincode); err == nil && found {
		return ok, nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("serviceability cache read")
	}
	ok, err := s.gw.CheckServiceability(ctx, "", pincode)
	if err != nil {
		return false, err
	}
	if err := s.serviceability.Put(ctx, pincode, ok); err != nil {
		s.log.Warn().Err(err).Msg("serviceability cache write")
	}
	return ok, nil
}

type QuoteRequest struct {
	OrderID string
	Pincode string
	Weight  int
	Amount  float64
}

type Quote struct {
	CourierID   string  `json:"courier_id"`
	CourierName string  `json:"courier_name"`
	Charge      float64 `json:"charge"`
	Free        bool    `json:"free"`
}

// QuoteShipping picks the cheapest courier. With an order id the choice is
// handed off for the fulfillment request.
func (s *Service) QuoteShipping(ctx context.Context, r QuoteRequest) (Quote, error) {
	ok, err := s.CheckServiceability(ctx, r.Pincode)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, ErrNotServiceable
	}
	rates, err := s.gw.Rates(ctx, shipping.RateRequest{DeliveryPincode: r.Pincode, Weight: r.Weight, OrderAmount: r.Amount})
	if err != nil {
		return Quote{}, err
	}
	best, ok := shipping.BestRate(rates)
	if !ok {
		return Quote{}, ErrNoRates
	}
	if r.OrderID != "" {
		if err := s.couriers.Put(ctx, r.OrderID, best.CourierID); err != nil {
			return Quote{}, fmt.Errorf("store courier id: %w", err)
		}
	}
	charge := shipping.Charge(best, r.Amount)
	return Quote{CourierID: best.CourierID, CourierName: best.CourierName, Charge: charge, Free: r.Amount > shipping.FreeShippingAbove}, nil
}
