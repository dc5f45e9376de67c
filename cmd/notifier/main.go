package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/order-pipeline/internal/app"
	"github.com/example/order-pipeline/internal/config"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Notifier] Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Service+"-notifier", cfg.Log.Level)
	if err != nil {
		log.Fatalf("[Notifier] Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Queue.Backend == "memory" {
		logger.Fatal("the notifier needs a shared queue; set QUEUE_BACKEND to kafka or redis")
	}

	logger.Info("starting email notifier",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("topic", cfg.Queue.NotificationTopic),
		zap.String("group", cfg.Queue.ConsumerGroup),
		zap.String("smtp", cfg.SMTP.Host+":"+cfg.SMTP.Port),
		zap.String("from", cfg.SMTP.From),
	)

	m := metrics.New()

	// Customers are read from the entity store
	entities, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to open entity store", zap.Error(err))
	}
	defer closeStore()

	transport, err := app.OpenTransport(ctx, cfg.Queue, logger, m)
	if err != nil {
		logger.Fatal("failed to open queue transport", zap.Error(err))
	}
	defer transport.Close()

	pipeline := app.NewPipeline(cfg, entities, transport, nil, logger, m)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := app.RunConsumer(ctx, transport, cfg.Queue.NotificationTopic, pipeline.Notifier.HandleEvent); err != nil {
			logger.Error("consumer error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-done:
	}

	logger.Info("shutting down")
	cancel()
	<-done
}
