package order

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/identity"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/logging"
	"go.uber.org/zap"
)

// StatusNotifier is told when an update moves an order to another status.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, o *Order, previous Status, updatedBy string) error
}

// Service serves the explicit read, update and delete operations on persisted orders.
type Service struct {
	store    store.EntityStore
	notifier StatusNotifier
	log      *zap.Logger
}

func NewService(s store.EntityStore, notifier StatusNotifier, log *zap.Logger) *Service {
	return &Service{
		store:    s,
		notifier: notifier,
		log:      logging.OrNop(log).With(zap.String("component", "orders")),
	}
}

// List returns every order, oldest first.
func (s *Service) List(ctx context.Context) ([]*Order, error) {
	records, err := s.store.Scan(ctx, Collection)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	orders := make([]*Order, 0, len(records))
	for _, rec := range records {
		var o Order
		if err := rec.Decode(&o); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return createdAt(orders[i].ID).Before(createdAt(orders[j].ID))
	})
	return orders, nil
}

// createdAt reads the creation time from a generated id. Other ids yield the
// zero time and keep their store order ahead of generated ones.
func createdAt(id string) time.Time {
	t, err := identity.Timestamp(id)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Get returns the order and its concurrency token.
func (s *Service) Get(ctx context.Context, id string) (*Order, int64, error) {
	rec, err := s.store.Get(ctx, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, errors.Wrapf(ErrOrderNotFound, "%s", id)
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to get order %s", id)
	}
	var o Order
	if err := rec.Decode(&o); err != nil {
		return nil, 0, err
	}
	return &o, rec.Version, nil
}

// Update replaces the mutable fields of order id with those of next. A zero
// expectedVersion means the version read by this call. It fails with
// ErrOrderNotFound, ErrInvalidStatusTransition or store.ErrVersionConflict.
func (s *Service) Update(ctx context.Context, id string, next Order, expectedVersion int64, updatedBy string) (*Order, int64, error) {
	current, version, err := s.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if expectedVersion == 0 {
		expectedVersion = version
	}

	previous, err := current.ApplyUpdate(next)
	if err != nil {
		return nil, 0, err
	}

	rec, err := s.store.Update(ctx, Collection, id, current, expectedVersion)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, errors.Wrapf(ErrOrderNotFound, "%s", id)
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to update order %s", id)
	}

	log := logging.FromContext(ctx, s.log).With(zap.String("order_id", id))
	log.Info("order updated", zap.Int64("version", rec.Version), zap.String("status", string(current.Status)))

	if previous != current.Status && s.notifier != nil {
		if err := s.notifier.NotifyStatusChange(ctx, current, previous, updatedBy); err != nil {
			log.Warn("status change notification failed", zap.Error(err))
		}
	}
	return current, rec.Version, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(ErrOrderNotFound, "%s", id)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to delete order %s", id)
	}
	logging.FromContext(ctx, s.log).Info("order deleted", zap.String("order_id", id))
	return nil
}
