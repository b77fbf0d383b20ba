package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders/mocks"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/retry"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	mu sync.Mutex

	createFails int
	creates     int
	assigns     int
	shipmentID  string
	awb         string
	courierName string
	// onAssign runs after a successful AssignCourier, outside the lock.
	onAssign func()

	trackStatus string
	trackCalls  int

	cancels         []string
	cancelConfirmed bool

	serviceable  bool
	serviceCalls int
	rates        []shipping.Rate
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		shipmentID:      "S1",
		awb:             "A1",
		courierName:     "BlueDart",
		cancelConfirmed: true,
		serviceable:     true,
	}
}

func (g *fakeGateway) CreateShipment(_ context.Context, req shipping.ShipmentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.creates <= g.createFails {
		return "", &shipping.GatewayError{Op: "push_order", Status: 503, Message: "unavailable"}
	}
	return g.shipmentID, nil
}

func (g *fakeGateway) AssignCourier(context.Context, string, string) (shipping.Assignment, error) {
	g.mu.Lock()
	g.assigns++
	a, hook := shipping.Assignment{AWBNumber: g.awb, CourierName: g.courierName}, g.onAssign
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return a, nil
}

func (g *fakeGateway) Track(context.Context, string) (shipping.Tracking, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trackCalls++
	return shipping.Tracking{CurrentStatus: g.trackStatus, Location: "Hub"}, nil
}

func (g *fakeGateway) Cancel(_ context.Context, shipmentOrderID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, shipmentOrderID)
	return g.cancelConfirmed, nil
}

func (g *fakeGateway) CheckServiceability(context.Context, string, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.serviceCalls++
	return g.serviceable, nil
}

func (g *fakeGateway) Rates(context.Context, shipping.RateRequest) ([]shipping.Rate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rates, nil
}

func (g *fakeGateway) setTrack(status string) {
	g.mu.Lock()
	g.trackStatus = status
	g.mu.Unlock()
}

type fakeMetrics struct {
	mu                   sync.Mutex
	contention, conflict int
}

func (m *fakeMetrics) LockContention() {
	m.mu.Lock()
	m.contention++
	m.mu.Unlock()
}

func (m *fakeMetrics) TrackingConflict() {
	m.mu.Lock()
	m.conflict++
	m.mu.Unlock()
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []orders.OrderStatusChangedPayload
}

func (n *fakeNotifier) OrderStatusChanged(_ context.Context, ev orders.OrderStatusChangedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

type outcomes struct {
	mu  sync.Mutex
	got []queue.Outcome
}

func (o *outcomes) JobFinished(_ string, outcome queue.Outcome, _ time.Duration) {
	o.mu.Lock()
	o.got = append(o.got, outcome)
	o.mu.Unlock()
}

func (o *outcomes) last() queue.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.got) == 0 {
		return ""
	}
	return o.got[len(o.got)-1]
}

// harness wires every component against miniredis and the in-memory store.
type harness struct {
	rdb      *redis.Client
	clock    *clock
	store    *mocks.Store
	gw       *fakeGateway
	metrics  *fakeMetrics
	notifier *fakeNotifier
	couriers *redisx.CourierCache

	fulfilQ, trackQ, cancelQ *queue.Queue
	scheduler                *TrackingScheduler

	svc      *Service
	fulfil   *FulfillmentWorker
	tracking *TrackingWorker
	cancel   *CancellationWorker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		rdb:      rdb,
		clock:    &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		store:    mocks.NewStore(),
		gw:       newFakeGateway(),
		metrics:  &fakeMetrics{},
		notifier: &fakeNotifier{},
		couriers: redisx.NewCourierCache(rdb, 0),
	}
	opts := []queue.Option{queue.WithClock(h.clock.Now), queue.WithStallTimeout(time.Minute)}
	h.fulfilQ = queue.New(rdb, QueueFulfillment, opts...)
	h.trackQ = queue.New(rdb, QueueTracking, opts...)
	h.cancelQ = queue.New(rdb, QueueCancel, opts...)
	h.scheduler = NewTrackingScheduler(h.trackQ, 0)

	h.svc = NewService(ServiceDeps{
		Store:          h.store,
		Gateway:        h.gw,
		Couriers:       h.couriers,
		Serviceability: redisx.NewServiceabilityCache(rdb),
		Fulfillment:    h.fulfilQ,
		Cancellation:   h.cancelQ,
		Scheduler:      h.scheduler,
		Logger:         zerolog.Nop(),
	})
	h.fulfil = NewFulfillmentWorker(h.store, redisx.NewLocker(rdb), h.gw, h.scheduler, h.cancelQ, h.metrics, FulfillmentConfig{
		Retry: retry.Policy{MaxAttempts: 1},
	})
	h.tracking = NewTrackingWorker(h.store, h.gw, h.scheduler, h.notifier, h.metrics)
	h.tracking.now = h.clock.Now
	h.cancel = NewCancellationWorker(h.store, h.gw, h.scheduler)
	return h
}

// seedOrder creates order id with 2 units of P1/200g against a stock of 10.
func (h *harness) seedOrder(t *testing.T, id string) {
	t.Helper()
	h.store.PutVariant(inventory.Variant{ProductID: "P1", Weight: 200, Price: 450, Stock: 10})
	require.NoError(t, h.store.Create(context.Background(), &orders.Order{
		ID:     id,
		UserID: "U1",
		Items: []orders.LineItem{
			{ProductID: "P1", ProductName: "Kaju", VariantWeight: 200, Quantity: 2, UnitPrice: 450},
		},
		Shipping:    orders.ShippingDetails{FirstName: "Asha", Pincode: "560001", Phone: "9999999999"},
		AmountCents: 90000,
	}))
}

// confirmAndRequest takes a seeded order through payment and the
// fulfillment request.
func (h *harness) confirmAndRequest(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.ConfirmPayment(ctx, id, "pay_1")
	require.NoError(t, err)
	require.NoError(t, h.couriers.Put(ctx, id, "C1"))
	_, added, err := h.svc.RequestFulfillment(ctx, FulfillmentRequest{OrderID: id, UserEmail: "asha@example.com", UserName: "Asha"})
	require.NoError(t, err)
	require.True(t, added)
}

func (h *harness) runner(q *queue.Queue, handler queue.Handler, obs queue.Observer) *queue.Runner {
	return queue.NewRunner(q, handler, queue.RunnerConfig{Concurrency: 1, Observer: obs, Logger: zerolog.Nop()})
}

func (h *harness) stock(t *testing.T) int {
	t.Helper()
	v, ok := h.store.Variant("P1", 200)
	require.True(t, ok)
	return v.Stock
}

func (h *harness) order(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func inventoryVariant(stock int) inventory.Variant {
	return inventory.Variant{ProductID: "P1", Weight: 200, Price: 450, Stock: stock}
}

// ship takes a seeded order all the way through fulfillment.
func (h *harness) ship(t *testing.T, id string) {
	t.Helper()
	h.seedOrder(t, id)
	h.confirmAndRequest(t, id)
	require.NoError(t, h.fulfil.Process(context.Background(), FulfillmentJob{OrderID: id, CourierID: "C1", UserEmail: "asha@example.com", UserName: "Asha"}))
}

type etaGateway struct {
	*fakeGateway
	eta time.Time
}

func (g *etaGateway) Track(ctx context.Context, awb string) (shipping.Tracking, error) {
	tr, err := g.fakeGateway.Track(ctx, awb)
	tr.ExpectedDeliveryDate = &g.eta
	return tr, err
}
