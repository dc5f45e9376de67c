package intake

import (
	"context"
	"encoding/json"

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
	MessageAccepted = "Order submitted for processing"
	StatusQueued    = "queued"
)

// ErrEnqueueFailed wraps any failure to hand the request to the queue.
var ErrEnqueueFailed = errors.New("failed to enqueue order")

// Accepted is the immediate acknowledgement returned to the client.
// It carries no order id since the order does not exist yet.
type Accepted struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Gateway hands order requests to the order-processing topic.
type Gateway struct {
	publisher queue.Publisher
	topic     string
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type Option func(*Gateway)

// WithTopic overrides the destination topic.
func WithTopic(topic string) Option {
	return func(g *Gateway) { g.topic = topic }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func NewGateway(publisher queue.Publisher, opts ...Option) *Gateway {
	g := &Gateway{
		publisher: publisher,
		topic:     order.TopicProcessing,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(zap.String("component", "intake"))
	return g
}

// Submit enqueues req unchanged. No field is validated here; the processor
// owns the record's final shape.
func (g *Gateway) Submit(ctx context.Context, req order.Request) (*Accepted, error) {
	ctx, span := otel.Tracer("order-pipeline/intake").Start(ctx, "intake.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.customer_id", req.CustomerID),
		attribute.String("order.product_id", req.ProductID),
		attribute.String("messaging.destination", g.topic),
	)
	log := logging.FromContext(ctx, g.log)

	payload, err := json.Marshal(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal")
		g.metrics.IncSubmitted("error")
		return nil, errors.Wrap(err, "failed to marshal order request")
	}

	if err := g.publisher.Enqueue(ctx, g.topic, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue")
		g.metrics.IncSubmitted("error")
		log.Error("failed to enqueue order request",
			zap.String("topic", g.topic),
			zap.String("customer_id", req.CustomerID),
			zap.Error(err),
		)
		return nil, errors.Mark(errors.Wrapf(err, "enqueue to %s", g.topic), ErrEnqueueFailed)
	}

	g.metrics.IncSubmitted("queued")
	log.Info("order request queued",
		zap.String("topic", g.topic),
		zap.String("customer_id", req.CustomerID),
		zap.String("product_id", req.ProductID),
		zap.Int("quantity", req.Quantity),
	)
	return &Accepted{Message: MessageAccepted, Status: StatusQueued}, nil
}
