package order

import "time"

const (
	TopicProcessing    = "order-processing"
	TopicNotifications = "order-notifications"
)

// NotificationEvent is published to order-notifications after an order is persisted.
type NotificationEvent struct {
	OrderID      string    `json:"orderId"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
	ProductName  string    `json:"productName"`
	Quantity     int       `json:"quantity"`
	TotalPrice   float64   `json:"totalPrice"`
	OrderDate    time.Time `json:"orderDate"`
	Status       Status    `json:"status"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// StatusChangedEvent is published to order-notifications when an update moves the status.
type StatusChangedEvent struct {
	OrderID        string    `json:"orderId"`
	CustomerID     string    `json:"customerId"`
	CustomerName   string    `json:"customerName"`
	ProductName    string    `json:"productName"`
	PreviousStatus Status    `json:"previousStatus"`
	NewStatus      Status    `json:"newStatus"`
	UpdatedDate    time.Time `json:"updatedDate"`
	UpdatedBy      string    `json:"updatedBy"`
}

// NewNotificationEvent derives the fan-out payload from a persisted order.
// The username doubles as the customer display name.
func NewNotificationEvent(o *Order, processedAt time.Time) NotificationEvent {
	return NotificationEvent{
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		CustomerName: o.Username,
		ProductName:  o.ProductName,
		Quantity:     o.Quantity,
		TotalPrice:   o.TotalPrice,
		OrderDate:    o.OrderDate,
		Status:       o.Status,
		ProcessedAt:  processedAt.UTC(),
	}
}
