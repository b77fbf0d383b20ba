package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := telemetry.NewLogger("worker", "info")
		boot.Fatal().Err(err).Msg("config")
	}
	service := cfg.ServiceName + "-worker"
	log := telemetry.NewLogger(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, service, version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(3*cfg.WorkerConcurrency+2))
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	metrics := telemetry.NewMetrics()
	gw := shipping.NewClient(shipping.Config{
		BaseURL:       cfg.Shipping.BaseURL,
		PublicKey:     cfg.Shipping.PublicKey,
		PrivateKey:    cfg.Shipping.PrivateKey,
		Timeout:       cfg.Shipping.Timeout,
		PickupPincode: cfg.Shipping.PickupPincode,
	}, metrics)

	// Notifications out
	prod := kafkax.NewProducer(cfg.Brokers(), orders.TopicOrderStatusChanged, 1024, log)
	prod.Start(ctx)

	store := orders.NewRepo(db)
	fulfilQ := queue.New(rdb, fulfillment.QueueFulfillment, queue.WithStallTimeout(cfg.StallTimeout))
	trackQ := queue.New(rdb, fulfillment.QueueTracking, queue.WithStallTimeout(cfg.StallTimeout))
	cancelQ := queue.New(rdb, fulfillment.QueueCancel, queue.WithStallTimeout(cfg.StallTimeout))
	scheduler := fulfillment.NewTrackingScheduler(trackQ, cfg.TrackingInterval)

	svc := fulfillment.NewService(fulfillment.ServiceDeps{
		Store:          store,
		Gateway:        gw,
		Couriers:       redisx.NewCourierCache(rdb, cfg.CourierIDTTL),
		Serviceability: redisx.NewServiceabilityCache(rdb),
		Fulfillment:    fulfilQ,
		Cancellation:   cancelQ,
		Scheduler:      scheduler,
		Logger:         log,
	})
	fw := fulfillment.NewFulfillmentWorker(store, redisx.NewLocker(rdb), gw, scheduler, cancelQ, metrics, fulfillment.FulfillmentConfig{
		LockTTL:     cfg.LockTTL,
		WarehouseID: cfg.Shipping.WarehouseID,
	})
	tw := fulfillment.NewTrackingWorker(store, gw, scheduler, notify.NewKafkaNotifier(prod, service), metrics)
	cw := fulfillment.NewCancellationWorker(store, gw, scheduler)

	rc := queue.RunnerConfig{Concurrency: cfg.WorkerConcurrency, Observer: metrics, Logger: log}
	runners := []*queue.Runner{
		queue.NewRunner(fulfilQ, fw.Handler(), rc),
		queue.NewRunner(trackQ, tw.Handler(), rc),
		queue.NewRunner(cancelQ, cw.Handler(), rc),
	}

	// Payment events in
	payments := &fulfillment.PaymentHandler{Service: svc, Redis: rdb, ServiceName: service}
	cons := kafkax.NewConsumer(cfg.Brokers(), cfg.PaymentConsumerGroup, orders.TopicPaymentConfirmed, cfg.WorkerConcurrency, log)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return cons.Start(gctx, payments.HandlePaymentConfirmed) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker exited")
	}
	log.Info().Msg("shutting down...")
	stop()
	prod.WaitClosed()

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdownTracing(ctx2)
}
