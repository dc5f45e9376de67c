package product

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Collection is the entity store collection holding products.
const Collection = "products"

// TopicStockUpdates receives a message after every stock change.
const TopicStockUpdates = "stock-updates"

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	Price          float64 `json:"price"`
	StockAvailable int     `json:"stockAvailable"`
	ImageURL       string  `json:"imageUrl,omitempty"`
	Category       string  `json:"category,omitempty"`
}

// StockUpdate records a single stock change for downstream listeners.
type StockUpdate struct {
	ProductID     string    `json:"productId"`
	ProductName   string    `json:"productName"`
	PreviousStock int       `json:"previousStock"`
	NewStock      int       `json:"newStock"`
	UpdatedBy     string    `json:"updatedBy"`
	UpdateDate    time.Time `json:"updateDate"`
}
