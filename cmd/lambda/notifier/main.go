package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/order-pipeline/internal/config"
	"github.com/example/order-pipeline/internal/email"
	"github.com/example/order-pipeline/internal/infrastructure/sqs"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/example/order-pipeline/internal/notification"
	"go.uber.org/zap"
)

var batchHandler *sqs.BatchHandler

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Lambda Notifier] Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Service+"-lambda-notifier", cfg.Log.Level)
	if err != nil {
		log.Fatalf("[Lambda Notifier] Failed to build logger: %v", err)
	}

	m := metrics.New()

	entities, _, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		logger.Fatal("failed to open entity store", zap.Error(err))
	}

	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)
	handler := notification.NewHandler(emailSvc, entities, logger, m)
	batchHandler = sqs.NewBatchHandler(cfg.Queue.NotificationTopic, handler.HandleEvent, logger, m)

	logger.Info("initialized", zap.String("smtp", cfg.SMTP.Host+":"+cfg.SMTP.Port))
}

func main() {
	lambda.Start(batchHandler.Handle)
}
