package notification

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	kindCreated       = "order_created"
	kindStatusChanged = "status_changed"
)

// Fanout publishes order events to the notification topic after the order
// write has succeeded. Callers decide what a failure means; the pipeline
// treats it as best-effort.
type Fanout struct {
	publisher queue.Publisher
	topic     string
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type FanoutOption func(*Fanout)

func WithTopic(topic string) FanoutOption {
	return func(f *Fanout) { f.topic = topic }
}

func WithClock(now func() time.Time) FanoutOption {
	return func(f *Fanout) { f.now = now }
}

func WithLogger(l *zap.Logger) FanoutOption {
	return func(f *Fanout) { f.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) FanoutOption {
	return func(f *Fanout) { f.metrics = m }
}

func NewFanout(publisher queue.Publisher, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		publisher: publisher,
		topic:     order.TopicNotifications,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With(zap.String("component", "notifier"))
	return f
}

// Notify enqueues the NotificationEvent for a freshly persisted order.
func (f *Fanout) Notify(ctx context.Context, o *order.Order) error {
	ctx, span := otel.Tracer("order-pipeline/notification").Start(ctx, "notification.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", o.ID))

	event := order.NewNotificationEvent(o, f.now())
	if err := queue.EnqueueJSON(ctx, f.publisher, f.topic, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue")
		f.metrics.IncNotification(kindCreated, "error")
		return errors.Wrapf(err, "failed to notify order %s", o.ID)
	}

	f.metrics.IncNotification(kindCreated, "sent")
	logging.FromContext(ctx, f.log).Debug("order notification queued", zap.String("order_id", o.ID))
	return nil
}

// NotifyStatusChange enqueues a StatusChangedEvent for an update that moved
// the order from previous to its current status.
func (f *Fanout) NotifyStatusChange(ctx context.Context, o *order.Order, previous order.Status, updatedBy string) error {
	ctx, span := otel.Tracer("order-pipeline/notification").Start(ctx, "notification.NotifyStatusChange")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.previous_status", string(previous)),
		attribute.String("order.status", string(o.Status)),
	)

	event := order.StatusChangedEvent{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		CustomerName:   o.Username,
		ProductName:    o.ProductName,
		PreviousStatus: previous,
		NewStatus:      o.Status,
		UpdatedDate:    f.now().UTC(),
		UpdatedBy:      updatedBy,
	}
	if err := queue.EnqueueJSON(ctx, f.publisher, f.topic, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue")
		f.metrics.IncNotification(kindStatusChanged, "error")
		return errors.Wrapf(err, "failed to notify status change of order %s", o.ID)
	}

	f.metrics.IncNotification(kindStatusChanged, "sent")
	logging.FromContext(ctx, f.log).Debug("status change notification queued",
		zap.String("order_id", o.ID),
		zap.String("previous_status", string(previous)),
		zap.String("new_status", string(o.Status)),
	)
	return nil
}
