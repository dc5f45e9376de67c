package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context(), nil).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(HeaderRequestID))

	entries := logs.FilterMessage("request").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, int64(http.StatusTeapot), fields["status"])
		assert.Equal(t, "/orders", fields["path"])
		assert.Equal(t, rr.Header().Get(HeaderRequestID), fields["request_id"])
	}

	inner := logs.FilterMessage("inside handler").All()
	if assert.Len(t, inner, 1) {
		assert.Equal(t, rr.Header().Get(HeaderRequestID), inner[0].ContextMap()["request_id"])
	}
}

func TestRequestLogger_KeepsIncomingRequestID(t *testing.T) {
	handler := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-123", rr.Header().Get(HeaderRequestID))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestInstrument_RecordsRouteAndStatus(t *testing.T) {
	m := metrics.New()
	handler := Instrument(m, "/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/abc", nil))
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/def", nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/orders/{id}", "404")))
}

func TestInstrument_NilMetrics(t *testing.T) {
	handler := Instrument(nil, "/healthz", func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}
