package checkout

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/domain/inventory"
	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/intake"
	"github.com/example/order-pipeline/internal/logging"
	"go.uber.org/zap"
)

// Request is the body of POST /checkout.
type Request struct {
	CustomerID string `json:"customerId"`
	Username   string `json:"username"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

// Reserver takes and returns product stock.
type Reserver interface {
	Reserve(ctx context.Context, productID string, qty int, by string) (*inventory.Reservation, error)
	Release(ctx context.Context, productID string, qty int, by string) (*inventory.Reservation, error)
}

// Submitter hands an order request to the pipeline.
type Submitter interface {
	Submit(ctx context.Context, req order.Request) (*intake.Accepted, error)
}

// Service decrements stock and then queues the order. The two steps are not
// atomic: a reservation is only given back if queueing fails here.
type Service struct {
	reserver  Reserver
	submitter Submitter
	now       func() time.Time
	log       *zap.Logger
}

func NewService(reserver Reserver, submitter Submitter, log *zap.Logger) *Service {
	return &Service{
		reserver:  reserver,
		submitter: submitter,
		now:       time.Now,
		log:       logging.OrNop(log).With(zap.String("component", "checkout")),
	}
}

func (s *Service) Checkout(ctx context.Context, req Request) (*intake.Accepted, error) {
	log := logging.FromContext(ctx, s.log).With(
		zap.String("customer_id", req.CustomerID),
		zap.String("product_id", req.ProductID),
		zap.Int("quantity", req.Quantity),
	)

	by := req.Username
	if by == "" {
		by = req.CustomerID
	}

	res, err := s.reserver.Reserve(ctx, req.ProductID, req.Quantity, by)
	if err != nil {
		return nil, err
	}

	accepted, err := s.submitter.Submit(ctx, order.Request{
		CustomerID:  req.CustomerID,
		Username:    req.Username,
		ProductID:   req.ProductID,
		ProductName: res.ProductName,
		OrderDate:   s.now().UTC(),
		Quantity:    req.Quantity,
		UnitPrice:   res.UnitPrice,
		TotalPrice:  order.Total(req.Quantity, res.UnitPrice),
		Status:      string(order.StatusSubmitted),
	})
	if err != nil {
		if _, relErr := s.reserver.Release(ctx, req.ProductID, req.Quantity, by); relErr != nil {
			log.Error("failed to release stock after submit failure", zap.Error(relErr))
		}
		return nil, errors.Wrap(err, "checkout submit")
	}

	log.Info("checkout queued", zap.Int("new_stock", res.NewStock))
	return accepted, nil
}
