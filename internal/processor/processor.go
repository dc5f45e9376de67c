package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/identity"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DedupCollection holds one record per idempotency key already turned into an order.
const DedupCollection = "order-dedup"

// Notifier is told about every order the processor persists.
type Notifier interface {
	Notify(ctx context.Context, o *order.Order) error
}

type dedupRecord struct {
	Key       string    `json:"key"`
	OrderID   string    `json:"orderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Processor consumes order-processing messages and persists orders.
//
// It is not idempotent by default: a redelivered message produces a second
// order with a fresh id. With dedup enabled, requests carrying an
// idempotency key are turned into at most one order.
type Processor struct {
	store    store.EntityStore
	notifier Notifier
	newID    func() string
	now      func() time.Time
	dedup    bool
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Processor)

func WithDedup(enabled bool) Option {
	return func(p *Processor) { p.dedup = enabled }
}

func WithIDGenerator(newID func() string) Option {
	return func(p *Processor) { p.newID = newID }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func New(s store.EntityStore, notifier Notifier, opts ...Option) *Processor {
	p := &Processor{
		store:    s,
		notifier: notifier,
		newID:    identity.NewID,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("component", "processor"))
	return p
}

// HandleMessage is a queue.MessageHandler. It returns an error only when the
// order could not be persisted, so that the transport redelivers the message.
func (p *Processor) HandleMessage(ctx context.Context, key, value []byte) (err error) {
	start := p.now()
	ctx, span := otel.Tracer("order-pipeline/processor").Start(ctx, "processor.HandleMessage")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.message_id", string(key)))

	log := logging.FromContext(ctx, p.log).With(zap.ByteString("message_id", key))
	outcome := "created"
	defer func() {
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		p.metrics.IncProcessed(outcome, p.now().Sub(start).Seconds())
	}()

	var req order.Request
	if err := json.Unmarshal(value, &req); err != nil {
		// Redelivery cannot fix a payload that does not decode.
		log.Warn("dropping malformed order message", zap.Error(err))
		outcome = "malformed"
		return nil
	}

	o := order.New(p.newID(), req)

	dedupKey := ""
	if p.dedup && req.IdempotencyKey != "" {
		dedupKey = req.IdempotencyKey
		orderID, duplicate, err := p.claim(ctx, dedupKey, o.ID)
		if err != nil {
			log.Error("failed to record idempotency key", zap.String("idempotency_key", dedupKey), zap.Error(err))
			return err
		}
		if duplicate {
			log.Info("skipping duplicate order request", zap.String("idempotency_key", dedupKey))
			outcome = "duplicate"
			return nil
		}
		o.ID = orderID
	}
	log = log.With(zap.String("order_id", o.ID))

	if _, err := p.store.Insert(ctx, order.Collection, o.ID, o); err != nil {
		if dedupKey != "" && errors.Is(err, store.ErrAlreadyExists) {
			// a concurrent delivery of the same request wrote it first
			log.Info("skipping duplicate order request", zap.String("idempotency_key", dedupKey))
			outcome = "duplicate"
			return nil
		}
		log.Error("failed to persist order", zap.Error(err))
		if dedupKey != "" {
			p.release(ctx, log, dedupKey)
		}
		return errors.Wrapf(err, "failed to persist order %s", o.ID)
	}

	log.Info("order created",
		zap.String("customer_id", o.CustomerID),
		zap.String("product_id", o.ProductID),
		zap.Int("quantity", o.Quantity),
		zap.Float64("total_price", o.TotalPrice),
	)
	span.SetAttributes(attribute.String("order.id", o.ID))

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, o); err != nil {
			log.Warn("order notification failed", zap.Error(err))
		}
	}
	return nil
}

// claim reserves the idempotency key for orderID and returns the order id
// to write under. A key left behind by a delivery that never wrote its order
// is taken over together with that order id, so that concurrent takeovers
// collide on the order insert. duplicate reports that the order exists.
func (p *Processor) claim(ctx context.Context, key, orderID string) (string, bool, error) {
	_, err := p.store.Insert(ctx, DedupCollection, key, dedupRecord{
		Key:       key,
		OrderID:   orderID,
		CreatedAt: p.now().UTC(),
	})
	if err == nil {
		return orderID, false, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return "", false, err
	}

	rec, err := p.store.Get(ctx, DedupCollection, key)
	if err != nil {
		// released between the insert and this read; redelivery claims it afresh
		return "", false, errors.Wrapf(err, "failed to read idempotency key %s", key)
	}
	var held dedupRecord
	if err := rec.Decode(&held); err != nil {
		return "", false, err
	}
	if held.OrderID == "" {
		held = dedupRecord{Key: key, OrderID: orderID, CreatedAt: p.now().UTC()}
		if _, err := p.store.Update(ctx, DedupCollection, key, held, rec.Version); err != nil {
			return "", false, errors.Wrapf(err, "failed to repair idempotency key %s", key)
		}
		return orderID, false, nil
	}

	_, err = p.store.Get(ctx, order.Collection, held.OrderID)
	switch {
	case err == nil:
		return "", true, nil
	case errors.Is(err, store.ErrNotFound):
		return held.OrderID, false, nil
	default:
		return "", false, errors.Wrapf(err, "failed to check order %s", held.OrderID)
	}
}

func (p *Processor) release(ctx context.Context, log *zap.Logger, key string) {
	if err := p.store.Delete(ctx, DedupCollection, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("failed to release idempotency key", zap.String("idempotency_key", key), zap.Error(err))
	}
}
