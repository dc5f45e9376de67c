package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/domain/product"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type Mode string

const (
	// ModeRacy reads, checks and writes back without a concurrency check.
	// Two concurrent reservations can both succeed against the same stock.
	ModeRacy Mode = "racy"
	// ModeCAS writes with the version read and retries on conflict.
	ModeCAS Mode = "cas"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrContention        = errors.New("stock update retries exhausted")
)

// Reservation describes one applied stock change.
type Reservation struct {
	ProductID     string
	ProductName   string
	UnitPrice     float64
	PreviousStock int
	NewStock      int
}

// Coordinator decrements and restores product stock outside the order
// pipeline. It never holds a transaction with order creation.
type Coordinator struct {
	store      store.EntityStore
	publisher  queue.Publisher
	mode       Mode
	maxRetries int
	topic      string
	now        func() time.Time
	log        *zap.Logger
	metrics    *metrics.Metrics
}

type Option func(*Coordinator)

func WithMode(mode Mode) Option {
	return func(c *Coordinator) { c.mode = mode }
}

// WithMaxRetries bounds the re-read and retry cycles after a version conflict in ModeCAS.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// WithPublisher enables stock-update messages. Without it nothing is published.
func WithPublisher(p queue.Publisher, topic string) Option {
	return func(c *Coordinator) {
		c.publisher = p
		c.topic = topic
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(s store.EntityStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      s,
		mode:       ModeRacy,
		maxRetries: 3,
		topic:      product.TopicStockUpdates,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("component", "inventory"), zap.String("mode", string(c.mode)))
	return c
}

func (c *Coordinator) Mode() Mode {
	return c.mode
}

// Reserve takes qty units of productID. It fails with ErrInsufficientStock
// when the stock read is lower than qty.
func (c *Coordinator) Reserve(ctx context.Context, productID string, qty int, by string) (*Reservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	return c.apply(ctx, "inventory.Reserve", productID, -qty, by)
}

// Release gives qty units back, typically after a checkout could not be queued.
func (c *Coordinator) Release(ctx context.Context, productID string, qty int, by string) (*Reservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	return c.apply(ctx, "inventory.Release", productID, qty, by)
}

func (c *Coordinator) apply(ctx context.Context, op, productID string, delta int, by string) (res *Reservation, err error) {
	ctx, span := otel.Tracer("order-pipeline/inventory").Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.Int("stock.delta", delta),
		attribute.String("inventory.mode", string(c.mode)),
	)

	log := logging.FromContext(ctx, c.log).With(zap.String("product_id", productID), zap.Int("delta", delta))
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrInsufficientStock):
			outcome = "insufficient"
		case errors.Is(err, ErrContention):
			outcome = "contention"
		case err != nil:
			outcome = "error"
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		c.metrics.IncReservation(string(c.mode), outcome)
	}()

	if c.mode == ModeCAS {
		res, err = c.applyCAS(ctx, productID, delta)
	} else {
		res, err = c.applyRacy(ctx, productID, delta)
	}
	if err != nil {
		log.Info("stock change rejected", zap.Error(err))
		return nil, err
	}

	log.Info("stock changed", zap.Int("previous_stock", res.PreviousStock), zap.Int("new_stock", res.NewStock))
	c.publish(ctx, log, res, by)
	return res, nil
}

func (c *Coordinator) applyRacy(ctx context.Context, productID string, delta int) (*Reservation, error) {
	p, _, err := c.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	res, err := change(p, delta)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.Put(ctx, product.Collection, productID, p); err != nil {
		return nil, errors.Wrapf(err, "failed to write stock of %s", productID)
	}
	return res, nil
}

func (c *Coordinator) applyCAS(ctx context.Context, productID string, delta int) (*Reservation, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		p, version, err := c.load(ctx, productID)
		if err != nil {
			return nil, err
		}
		res, err := change(p, delta)
		if err != nil {
			return nil, err
		}

		_, err = c.store.Update(ctx, product.Collection, productID, p, version)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(product.ErrProductNotFound, "%s", productID)
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, errors.Wrapf(err, "failed to write stock of %s", productID)
		}
		c.log.Debug("stock version conflict, retrying",
			zap.String("product_id", productID),
			zap.Int64("version", version),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, errors.Wrapf(ErrContention, "%s after %d attempts", productID, c.maxRetries+1)
}

func (c *Coordinator) load(ctx context.Context, productID string) (*product.Product, int64, error) {
	rec, err := c.store.Get(ctx, product.Collection, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, errors.Wrapf(product.ErrProductNotFound, "%s", productID)
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read product %s", productID)
	}
	var p product.Product
	if err := rec.Decode(&p); err != nil {
		return nil, 0, err
	}
	if p.ID == "" {
		p.ID = productID
	}
	return &p, rec.Version, nil
}

// change applies delta to p in place.
func change(p *product.Product, delta int) (*Reservation, error) {
	if delta < 0 && p.StockAvailable < -delta {
		return nil, errors.Wrapf(ErrInsufficientStock, "%s has %d, requested %d", p.ID, p.StockAvailable, -delta)
	}
	res := &Reservation{
		ProductID:     p.ID,
		ProductName:   p.Name,
		UnitPrice:     p.Price,
		PreviousStock: p.StockAvailable,
		NewStock:      p.StockAvailable + delta,
	}
	p.StockAvailable = res.NewStock
	return res, nil
}

func (c *Coordinator) publish(ctx context.Context, log *zap.Logger, res *Reservation, by string) {
	if c.publisher == nil {
		return
	}
	update := product.StockUpdate{
		ProductID:     res.ProductID,
		ProductName:   res.ProductName,
		PreviousStock: res.PreviousStock,
		NewStock:      res.NewStock,
		UpdatedBy:     by,
		UpdateDate:    c.now().UTC(),
	}
	if err := queue.EnqueueJSON(ctx, c.publisher, c.topic, update); err != nil {
		log.Warn("failed to publish stock update", zap.Error(err))
	}
}
