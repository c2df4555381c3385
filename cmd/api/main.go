package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ariefcatur/go-canteen-orders/internal/advancer"
	"github.com/ariefcatur/go-canteen-orders/internal/auth"
	"github.com/ariefcatur/go-canteen-orders/internal/canteens"
	"github.com/ariefcatur/go-canteen-orders/internal/cart"
	"github.com/ariefcatur/go-canteen-orders/internal/config"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-canteen-orders/internal/kafka"
	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/postgres"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
	"github.com/ariefcatur/go-canteen-orders/internal/relay"
	"github.com/ariefcatur/go-canteen-orders/internal/telemetry"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.ServiceName)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, shutdownMetrics, err := telemetry.InitMeterProvider(cfg.ServiceName, version)
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, version)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	metrics := telemetry.Default()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
	if err != nil {
		logger.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	live := feed.NewRedis(rdb, logger)

	// Changes go through Kafka when brokers are configured and the relay
	// fans them out. Otherwise they refresh the status cache and are
	// published on Redis directly.
	statusCache := redisx.NewStatusCache(rdb)
	var (
		pub  feed.Publisher = &relay.Fanout{Cache: statusCache, Feed: live, Logger: logger}
		prod *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, feed.TopicOrderChanges, 1024, logger)
		prod.Start(ctx)
		pub = feed.NewKafka(prod, cfg.ServiceName)
		logger.Info("publishing order changes to kafka", "topic", feed.TopicOrderChanges)
	}

	// Services
	orderRepo := &orders.Repo{DB: db}
	canteenSvc := canteens.NewService(&canteens.Repo{DB: db}, logger)
	submitter := orders.NewSubmitter(orderRepo, pub, metrics, logger)
	lifecycle := orders.NewLifecycle(orderRepo, pub, metrics, logger)
	query := orders.NewQuery(orderRepo, logger)
	adv := advancer.New(orderRepo, pub, metrics, logger,
		advancer.WithAnchor(orders.Anchor(cfg.SweepAnchor)),
		advancer.WithRules(advancer.Thresholds(cfg.PreparingAfter, cfg.ReadyAfter, cfg.CompletedAfter)))

	// Router & handlers
	router := httpx.NewRouter(auth.NewVerifier(cfg.JWTSecret), metricsHandler)
	(&httpx.OrdersHandler{
		Query:     query,
		Lifecycle: lifecycle,
		Statuses:  orderRepo,
		Cache:     statusCache,
		Feed:      live,
		Logger:    logger,
	}).Register(router)
	(&httpx.CartHandler{
		Carts:    cart.NewRedisStore(rdb, cfg.CartTTL),
		Menu:     canteenSvc,
		Checkout: submitter,
		Idem:     redisx.NewIdempotency(rdb),
		Logger:   logger,
	}).Register(router)
	(&httpx.CanteensHandler{Canteens: canteenSvc, Logger: logger}).Register(router)
	(&httpx.SweepHandler{Advancer: adv, Token: cfg.SweepToken, Logger: logger}).Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	cancel() // stop producer loop
	if prod != nil {
		prod.WaitClosed()
	}
	if err := shutdownTracing(ctx2); err != nil {
		logger.Error("tracer shutdown", "error", err)
	}
	if err := shutdownMetrics(ctx2); err != nil {
		logger.Error("meter shutdown", "error", err)
	}
}
