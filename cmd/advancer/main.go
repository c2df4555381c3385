package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-canteen-orders/internal/advancer"
	"github.com/ariefcatur/go-canteen-orders/internal/config"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
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
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-advancer"
	logger := logging.New(service)
	anchor := orders.Anchor(cfg.SweepAnchor)
	if anchor != orders.AnchorCreated && anchor != orders.AnchorStatusChanged {
		logger.Error("invalid ADVANCER_ANCHOR", "anchor", cfg.SweepAnchor)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, shutdownMetrics, err := telemetry.InitMeterProvider(service, version)
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, service, version)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	// flush spans and metrics last, after the producer has drained
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("tracer shutdown", "error", err)
		}
		if err := shutdownMetrics(sctx); err != nil {
			logger.Error("meter shutdown", "error", err)
		}
	}()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.WithLogger(logger), postgres.WithMaxConns(2))
	if err != nil {
		logger.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var (
		pub  feed.Publisher
		prod *kafkax.Producer
	)
	pctx, pcancel := context.WithCancel(context.Background())
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, feed.TopicOrderChanges, 1024, logger)
		prod.Start(pctx)
		pub = feed.NewKafka(prod, service)
	} else {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		pub = &relay.Fanout{Cache: redisx.NewStatusCache(rdb), Feed: feed.NewRedis(rdb, logger), Logger: logger}
	}
	// the producer outlives the sweep ctx so queued events are flushed
	drain := func() {
		pcancel()
		if prod != nil {
			prod.WaitClosed()
		}
	}
	defer drain()

	adv := advancer.New(&orders.Repo{DB: db}, pub, telemetry.Default(), logger,
		advancer.WithAnchor(anchor),
		advancer.WithRules(advancer.Thresholds(cfg.PreparingAfter, cfg.ReadyAfter, cfg.CompletedAfter)))

	if *once {
		rep := adv.Sweep(ctx)
		logger.Info("sweep done", "advanced", rep.Advanced())
		if err := rep.Err(); err != nil {
			logger.Error("sweep failed", "error", err)
			drain()
			os.Exit(1)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	msrv := &http.Server{Addr: cfg.AdvancerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", cfg.AdvancerMetricsAddr)
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listen", "error", err)
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = msrv.Shutdown(sctx)
	}()

	logger.Info("advancer started", "interval", cfg.SweepInterval, "anchor", cfg.SweepAnchor)
	if err := adv.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("advancer stopped", "error", err)
	}
	logger.Info("advancer stopped")
}
