package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/config"
	"github.com/example/order-pipeline/internal/infrastructure/kafka"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/example/order-pipeline/internal/infrastructure/redisq"
	"github.com/example/order-pipeline/internal/metrics"
	"go.uber.org/zap"
)

// OpenTransport builds the queue.Transport selected by QUEUE_BACKEND.
func OpenTransport(ctx context.Context, cfg config.QueueConfig, log *zap.Logger, m *metrics.Metrics) (queue.Transport, error) {
	switch cfg.Backend {
	case "memory":
		q := queue.NewMemoryQueue(queue.MemoryOptions{
			VisibilityTimeout: cfg.VisibilityTimeout,
			MaxDeliveries:     cfg.MaxDeliveries,
			Logger:            log,
			Metrics:           m,
		})
		for _, topic := range []string{cfg.OrderTopic, cfg.NotificationTopic, cfg.StockTopic} {
			if err := m.RegisterQueueDepth(topic, func() float64 { return float64(q.Pending(topic)) }); err != nil {
				q.Close()
				return nil, errors.Wrapf(err, "failed to register depth gauge for %s", topic)
			}
		}
		return q, nil
	case "kafka":
		return kafka.NewTransport(kafka.Options{
			Brokers:       cfg.KafkaBrokers,
			GroupID:       cfg.ConsumerGroup,
			MaxDeliveries: cfg.MaxDeliveries,
			Logger:        log,
			Metrics:       m,
		}), nil
	case "redis":
		t := redisq.NewTransport(redisq.Options{
			Addr:              cfg.RedisAddr,
			Password:          cfg.RedisPassword,
			Group:             cfg.ConsumerGroup,
			VisibilityTimeout: cfg.VisibilityTimeout,
			MaxDeliveries:     cfg.MaxDeliveries,
			Logger:            log,
			Metrics:           m,
		})
		if err := t.Ping(ctx); err != nil {
			t.Close()
			return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.RedisAddr)
		}
		return t, nil
	}
	return nil, errors.Newf("unknown queue backend %q", cfg.Backend)
}
