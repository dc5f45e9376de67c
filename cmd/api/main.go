package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/api"
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
		log.Fatalf("[API] Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Service+"-api", cfg.Log.Level)
	if err != nil {
		log.Fatalf("[API] Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting order pipeline api",
		zap.String("addr", cfg.Server.Addr),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Bool("processor_dedup", cfg.Processor.Dedup),
	)

	m := metrics.New()

	entities, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to open entity store", zap.Error(err))
	}
	defer closeStore()

	if err := app.Seed(ctx, cfg.Seed, entities, logger); err != nil {
		logger.Fatal("failed to seed store", zap.Error(err))
	}

	transport, err := app.OpenTransport(ctx, cfg.Queue, logger, m)
	if err != nil {
		logger.Fatal("failed to open queue transport", zap.Error(err))
	}
	defer transport.Close()

	pipeline := app.NewPipeline(cfg, entities, transport, nil, logger, m)
	logger.Info("pipeline ready", zap.String("inventory_mode", string(pipeline.Inventory.Mode())))

	// With the memory backend nothing outside this process can consume the
	// queue, so the processor and notifier run here.
	var wg sync.WaitGroup
	if cfg.Queue.Backend == "memory" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipeline.RunConsumers(ctx, transport); err != nil {
				logger.Error("in-process consumers stopped", zap.Error(err))
			}
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Handlers: api.NewHandlers(pipeline.Gateway, pipeline.Orders, pipeline.Checkout, pipeline.Products, logger),
		Metrics:  m,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Info("server started", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	cancel() // stop in-process consumers
	wg.Wait()
}
