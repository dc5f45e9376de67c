package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/order-pipeline/internal/app"
	"github.com/example/order-pipeline/internal/config"
	"github.com/example/order-pipeline/internal/infrastructure/sqs"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"go.uber.org/zap"
)

var batchHandler *sqs.BatchHandler

// The SQS event source owns delivery; notifications for persisted orders are
// published through QUEUE_BACKEND.
func init() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Lambda Processor] Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Service+"-lambda-processor", cfg.Log.Level)
	if err != nil {
		log.Fatalf("[Lambda Processor] Failed to build logger: %v", err)
	}
	if cfg.Queue.Backend == "memory" {
		logger.Warn("QUEUE_BACKEND=memory: order notifications will not leave this invocation")
	}

	m := metrics.New()

	entities, _, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to open entity store", zap.Error(err))
	}

	publisher, err := app.OpenTransport(ctx, cfg.Queue, logger, m)
	if err != nil {
		logger.Fatal("failed to open queue transport", zap.Error(err))
	}

	pipeline := app.NewPipeline(cfg, entities, publisher, nil, logger, m)
	batchHandler = sqs.NewBatchHandler(cfg.Queue.OrderTopic, pipeline.Processor.HandleMessage, logger, m)

	logger.Info("initialized",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Bool("dedup", cfg.Processor.Dedup),
	)
}

func main() {
	lambda.Start(batchHandler.Handle)
}
