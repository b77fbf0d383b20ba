package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
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
		boot := telemetry.NewLogger("api", "info")
		boot.Fatal().Err(err).Msg("config")
	}
	log := telemetry.NewLogger(cfg.ServiceName+"-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-api", version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 0)
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

	svc := fulfillment.NewService(fulfillment.ServiceDeps{
		Store:          orders.NewRepo(db),
		Gateway:        gw,
		Couriers:       redisx.NewCourierCache(rdb, cfg.CourierIDTTL),
		Serviceability: redisx.NewServiceabilityCache(rdb),
		Fulfillment:    queue.New(rdb, fulfillment.QueueFulfillment),
		Cancellation:   queue.New(rdb, fulfillment.QueueCancel),
		Scheduler:      fulfillment.NewTrackingScheduler(queue.New(rdb, fulfillment.QueueTracking), cfg.TrackingInterval),
		Logger:         log,
	})

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{Service: svc}).Register(router)
	router.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx2)
	_ = shutdownTracing(ctx2)
}
