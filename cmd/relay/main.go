package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-canteen-orders/internal/config"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	kafkax "github.com/ariefcatur/go-canteen-orders/internal/kafka"
	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/redisx"
	"github.com/ariefcatur/go-canteen-orders/internal/relay"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-relay"
	logger := logging.New(service)
	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &relay.Service{
		Redis:       rdb,
		Feed: &relay.Fanout{
			Cache:  redisx.NewStatusCache(rdb),
			Feed:   feed.NewRedis(rdb, logger),
			Logger: logger,
		},
		ServiceName: service,
		Logger:      logger,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, feed.TopicOrderChanges, cfg.RelayWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("relay consumer started", "group", cfg.KafkaGroup, "topic", feed.TopicOrderChanges, "workers", cfg.RelayWorkers)
		if err := cons.Start(ctx, svc.HandleChange); err != nil {
			logger.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}
