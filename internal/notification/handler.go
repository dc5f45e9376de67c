package notification

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/domain/customer"
	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/email"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"go.uber.org/zap"
)

// Mailer delivers customer emails.
type Mailer interface {
	SendOrderConfirmation(to string, c email.OrderConfirmation) error
	SendStatusUpdate(to string, u email.StatusUpdate) error
}

// Handler consumes order-notifications and emails the customer
type Handler struct {
	mailer  Mailer
	store   store.EntityStore
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer, s store.EntityStore, log *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		mailer:  mailer,
		store:   s,
		log:     logging.OrNop(log).With(zap.String("component", "notifier")),
		metrics: m,
	}
}

// envelope covers both message shapes on the topic; newStatus is only set
// on status changes.
type envelope struct {
	order.NotificationEvent
	NewStatus order.Status `json:"newStatus"`
}

// HandleEvent is a queue.MessageHandler for order-notifications.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	log := logging.FromContext(ctx, h.log).With(zap.ByteString("message_id", key))

	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		log.Warn("dropping malformed notification", zap.Error(err))
		return nil
	}

	if env.NewStatus != "" {
		var e order.StatusChangedEvent
		if err := json.Unmarshal(value, &e); err != nil {
			log.Warn("dropping malformed status change", zap.Error(err))
			return nil
		}
		return h.handleStatusChanged(ctx, log, e)
	}
	return h.handleOrderCreated(ctx, log, env.NotificationEvent)
}

func (h *Handler) handleOrderCreated(ctx context.Context, log *zap.Logger, e order.NotificationEvent) error {
	log = log.With(zap.String("order_id", e.OrderID), zap.String("customer_id", e.CustomerID))

	c, err := h.lookupCustomer(ctx, e.CustomerID)
	if err != nil {
		return err
	}
	if c == nil {
		log.Info("customer not found, skipping confirmation email")
		h.metrics.IncNotification("email_confirmation", "skipped")
		return nil
	}

	name := e.CustomerName
	if display := c.DisplayName(); display != "" {
		name = display
	}
	err = h.mailer.SendOrderConfirmation(c.Email, email.OrderConfirmation{
		OrderID:      e.OrderID,
		CustomerName: name,
		ProductName:  e.ProductName,
		Quantity:     e.Quantity,
		TotalPrice:   e.TotalPrice,
		OrderDate:    e.OrderDate,
	})
	if err != nil {
		log.Error("failed to send confirmation email", zap.String("to", c.Email), zap.Error(err))
		h.metrics.IncNotification("email_confirmation", "error")
		return err
	}

	h.metrics.IncNotification("email_confirmation", "sent")
	log.Info("order confirmation email sent", zap.String("to", c.Email))
	return nil
}

func (h *Handler) handleStatusChanged(ctx context.Context, log *zap.Logger, e order.StatusChangedEvent) error {
	log = log.With(zap.String("order_id", e.OrderID), zap.String("customer_id", e.CustomerID))

	c, err := h.lookupCustomer(ctx, e.CustomerID)
	if err != nil {
		return err
	}
	if c == nil {
		log.Info("customer not found, skipping status email")
		h.metrics.IncNotification("email_status", "skipped")
		return nil
	}

	err = h.mailer.SendStatusUpdate(c.Email, email.StatusUpdate{
		OrderID:        e.OrderID,
		CustomerName:   c.DisplayName(),
		ProductName:    e.ProductName,
		PreviousStatus: string(e.PreviousStatus),
		NewStatus:      string(e.NewStatus),
		UpdatedDate:    e.UpdatedDate,
	})
	if err != nil {
		log.Error("failed to send status email", zap.String("to", c.Email), zap.Error(err))
		h.metrics.IncNotification("email_status", "error")
		return err
	}

	h.metrics.IncNotification("email_status", "sent")
	log.Info("status update email sent", zap.String("to", c.Email), zap.String("new_status", string(e.NewStatus)))
	return nil
}

// lookupCustomer returns nil without error when the customer is unknown or
// has no address to write to.
func (h *Handler) lookupCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := h.store.Get(ctx, customer.Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load customer %s", id)
	}

	var c customer.Customer
	if err := rec.Decode(&c); err != nil {
		h.log.Warn("invalid customer record", zap.String("customer_id", id), zap.Error(err))
		return nil, nil
	}
	if c.Email == "" {
		return nil, nil
	}
	return &c, nil
}
