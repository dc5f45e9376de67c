package order

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// Collection is the entity store collection holding orders.
const Collection = "orders"

type Status string

const (
	StatusSubmitted  Status = "Submitted"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// validTransitions defines allowed state transitions after creation
var validTransitions = map[Status][]Status{
	StatusSubmitted:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

// Request is the client-supplied order as it travels on the order-processing topic.
type Request struct {
	CustomerID     string    `json:"customerId"`
	Username       string    `json:"username"`
	ProductID      string    `json:"productId"`
	ProductName    string    `json:"productName"`
	OrderDate      time.Time `json:"orderDate"`
	Quantity       int       `json:"quantity"`
	UnitPrice      float64   `json:"unitPrice"`
	TotalPrice     float64   `json:"totalPrice"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

// Order is the durable record stored under a generated identity.
type Order struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customerId"`
	Username    string    `json:"username"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	OrderDate   time.Time `json:"orderDate"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unitPrice"`
	TotalPrice  float64   `json:"totalPrice"`
	Status      Status    `json:"status"`
}

// New builds the record created on first processing of a request.
// The caller-supplied status and total are ignored.
func New(id string, req Request) *Order {
	return &Order{
		ID:          id,
		CustomerID:  req.CustomerID,
		Username:    req.Username,
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		OrderDate:   req.OrderDate,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		TotalPrice:  Total(req.Quantity, req.UnitPrice),
		Status:      StatusSubmitted,
	}
}

// Total returns quantity × unitPrice rounded to cents.
func Total(quantity int, unitPrice float64) float64 {
	return math.Round(float64(quantity)*unitPrice*100) / 100
}

// Recalculate restores the total price invariant.
func (o *Order) Recalculate() {
	o.TotalPrice = Total(o.Quantity, o.UnitPrice)
}

// CanTransitionTo checks if the order can move to the target status.
// Keeping the current status is always allowed.
func (o *Order) CanTransitionTo(target Status) bool {
	if o.Status == target {
		return true
	}
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// ApplyUpdate copies the mutable fields of next onto o, enforcing the
// transition rules and the total price invariant. It returns the previous status.
func (o *Order) ApplyUpdate(next Order) (Status, error) {
	previous := o.Status
	if next.Status == "" {
		next.Status = o.Status
	}
	if !o.CanTransitionTo(next.Status) {
		return previous, errors.Wrapf(ErrInvalidStatusTransition, "%s -> %s", o.Status, next.Status)
	}

	o.CustomerID = next.CustomerID
	o.Username = next.Username
	o.ProductID = next.ProductID
	o.ProductName = next.ProductName
	if !next.OrderDate.IsZero() {
		o.OrderDate = next.OrderDate
	}
	o.Quantity = next.Quantity
	o.UnitPrice = next.UnitPrice
	o.Status = next.Status
	o.Recalculate()
	return previous, nil
}
