package app

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/checkout"
	"github.com/example/order-pipeline/internal/config"
	"github.com/example/order-pipeline/internal/domain/inventory"
	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/domain/product"
	"github.com/example/order-pipeline/internal/email"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/intake"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/example/order-pipeline/internal/notification"
	"github.com/example/order-pipeline/internal/processor"
	"go.uber.org/zap"
)

// Pipeline holds every component wired against one store and one publisher.
type Pipeline struct {
	Gateway   *intake.Gateway
	Fanout    *notification.Fanout
	Processor *processor.Processor
	Notifier  *notification.Handler
	Orders    *order.Service
	Products  *product.Service
	Inventory *inventory.Coordinator
	Checkout  *checkout.Service

	cfg config.Config
	log *zap.Logger
}

func NewPipeline(cfg config.Config, entities store.EntityStore, publisher queue.Publisher, mailer notification.Mailer, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	log = logging.OrNop(log)
	if mailer == nil {
		mailer = email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)
	}

	fanout := notification.NewFanout(publisher,
		notification.WithTopic(cfg.Queue.NotificationTopic),
		notification.WithLogger(log),
		notification.WithMetrics(m),
	)
	gateway := intake.NewGateway(publisher,
		intake.WithTopic(cfg.Queue.OrderTopic),
		intake.WithLogger(log),
		intake.WithMetrics(m),
	)
	coordinator := inventory.NewCoordinator(entities,
		inventory.WithMode(inventory.Mode(cfg.Inventory.Mode)),
		inventory.WithMaxRetries(cfg.Inventory.MaxRetries),
		inventory.WithPublisher(publisher, cfg.Queue.StockTopic),
		inventory.WithLogger(log),
		inventory.WithMetrics(m),
	)

	return &Pipeline{
		Gateway: gateway,
		Fanout:  fanout,
		Processor: processor.New(entities, fanout,
			processor.WithDedup(cfg.Processor.Dedup),
			processor.WithLogger(log),
			processor.WithMetrics(m),
		),
		Notifier:  notification.NewHandler(mailer, entities, log, m),
		Orders:    order.NewService(entities, fanout, log),
		Products:  product.NewService(entities),
		Inventory: coordinator,
		Checkout:  checkout.NewService(coordinator, gateway, log),
		cfg:       cfg,
		log:       log,
	}
}

// RunConsumers subscribes the processor and the notifier and blocks until
// both return. Cancelling ctx stops them.
func (p *Pipeline) RunConsumers(ctx context.Context, sub queue.Subscriber) error {
	consumers := []struct {
		topic   string
		handler queue.MessageHandler
	}{
		{p.cfg.Queue.OrderTopic, p.Processor.HandleMessage},
		{p.cfg.Queue.NotificationTopic, p.Notifier.HandleEvent},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(consumers))
	for i, c := range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.log.Info("starting consumer", zap.String("topic", c.topic))
			errs[i] = RunConsumer(ctx, sub, c.topic, c.handler)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// RunConsumer subscribes handler to topic and treats a cancelled ctx or a
// closed transport as a clean stop.
func RunConsumer(ctx context.Context, sub queue.Subscriber, topic string, handler queue.MessageHandler) error {
	err := sub.Subscribe(ctx, topic, handler)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return errors.Wrapf(err, "consumer on %s stopped", topic)
}
