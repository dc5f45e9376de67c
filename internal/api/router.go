package api

import (
	"net/http"

	"github.com/example/order-pipeline/internal/api/middleware"
	"github.com/example/order-pipeline/internal/metrics"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handlers *Handlers
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	handlers := cfg.Handlers
	instrument := func(route string, fn http.HandlerFunc) http.HandlerFunc {
		return middleware.Instrument(cfg.Metrics, route, fn)
	}

	// Orders
	mux.HandleFunc("/orders", instrument("/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetOrders(w, r)
		case http.MethodPost:
			handlers.SubmitOrder(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	mux.HandleFunc("/orders/", instrument("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if extractPathParam(r.URL.Path, "/orders/") == "" {
			respondError(w, http.StatusNotFound, "Order not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			handlers.GetOrder(w, r)
		case http.MethodPut:
			handlers.UpdateOrder(w, r)
		case http.MethodDelete:
			handlers.DeleteOrder(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	// Checkout
	mux.HandleFunc("/checkout", instrument("/checkout", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlers.Checkout(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	// Products
	mux.HandleFunc("/products", instrument("/products", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetProducts(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	mux.HandleFunc("/products/", instrument("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetProduct(w, r)
		default:
			methodNotAllowed(w)
		}
	}))

	mux.HandleFunc("/healthz", handlers.Health)
	mux.Handle("/metrics", cfg.Metrics.Handler())

	return middleware.RequestLogger(cfg.Logger)(mux)
}

func methodNotAllowed(w http.ResponseWriter) {
	respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
