package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/checkout"
	"github.com/example/order-pipeline/internal/domain/inventory"
	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/domain/product"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/intake"
	"github.com/example/order-pipeline/internal/logging"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderUserID         = "X-User-ID"
)

type Handlers struct {
	gateway  *intake.Gateway
	orders   *order.Service
	checkout *checkout.Service
	products *product.Service
	log      *zap.Logger
}

func NewHandlers(gateway *intake.Gateway, orders *order.Service, checkoutSvc *checkout.Service, products *product.Service, log *zap.Logger) *Handlers {
	return &Handlers{
		gateway:  gateway,
		orders:   orders,
		checkout: checkoutSvc,
		products: products,
		log:      logging.OrNop(log).With(zap.String("component", "api")),
	}
}

// Order Handlers

func (h *Handlers) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req order.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}

	accepted, err := h.gateway.Submit(r.Context(), req)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, accepted)
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")

	o, version, err := h.orders.Get(r.Context(), id)
	if errors.Is(err, order.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	w.Header().Set("ETag", formatETag(version))
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")

	var next order.Order
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	expected, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid If-Match header")
		return
	}

	updatedBy := r.Header.Get(HeaderUserID)
	if updatedBy == "" {
		updatedBy = "api"
	}

	o, version, err := h.orders.Update(r.Context(), id, next, expected, updatedBy)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, order.ErrInvalidStatusTransition):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrVersionConflict):
		respondError(w, http.StatusConflict, "Order was modified concurrently")
	case err != nil:
		h.internalError(w, r, err)
	default:
		w.Header().Set("ETag", formatETag(version))
		respondJSON(w, http.StatusOK, o)
	}
}

func (h *Handlers) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")

	err := h.orders.Delete(r.Context(), id)
	if errors.Is(err, order.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkout Handlers

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	accepted, err := h.checkout.Checkout(r.Context(), req)
	switch {
	case errors.Is(err, inventory.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "Quantity must be positive")
	case errors.Is(err, product.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, inventory.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "Insufficient stock")
	case errors.Is(err, inventory.ErrContention):
		respondError(w, http.StatusConflict, "Stock is being updated, please retry")
	case err != nil:
		h.internalError(w, r, err)
	default:
		respondJSON(w, http.StatusAccepted, accepted)
	}
}

// Product Handlers

func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/products/")

	p, err := h.products.Get(r.Context(), id)
	if errors.Is(err, product.ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context(), h.log).Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "Internal server error")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

func formatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// parseIfMatch returns 0 when the header is absent.
func parseIfMatch(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return 0, nil
	}
	header = strings.TrimPrefix(header, "W/")
	version, err := strconv.ParseInt(strings.Trim(header, `"`), 10, 64)
	if err != nil || version < 1 {
		return 0, errors.Newf("invalid If-Match %q", header)
	}
	return version, nil
}
