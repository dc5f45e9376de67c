package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/order-pipeline/internal/checkout"
	"github.com/example/order-pipeline/internal/domain/inventory"
	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/domain/product"
	queuemocks "github.com/example/order-pipeline/internal/infrastructure/queue/mocks"
	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/example/order-pipeline/internal/intake"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/example/order-pipeline/internal/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
	pub     *queuemocks.MockPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	pub := queuemocks.NewMockPublisher()

	gateway := intake.NewGateway(pub)
	orders := order.NewService(s, notification.NewFanout(pub), nil)
	products := product.NewService(s)
	checkoutSvc := checkout.NewService(inventory.NewCoordinator(s), gateway, nil)

	_, err := products.Seed(context.Background(), []product.Product{
		{ID: "prod-1", Name: "Keyboard", Price: 20, StockAvailable: 5},
	})
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Handlers: NewHandlers(gateway, orders, checkoutSvc, products, nil),
		Metrics:  metrics.New(),
	})
	return &testServer{handler: router, store: s, pub: pub}
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) putOrder(t *testing.T, o order.Order) {
	t.Helper()
	_, err := ts.store.Insert(context.Background(), order.Collection, o.ID, o)
	require.NoError(t, err)
}

func sampleOrder() order.Order {
	return order.Order{
		ID:          "1717236000000_0123456789abcdef0123456789abcdef",
		CustomerID:  "cust-1",
		Username:    "jdoe",
		ProductID:   "prod-1",
		ProductName: "Keyboard",
		Quantity:    2,
		UnitPrice:   20,
		TotalPrice:  40,
		Status:      order.StatusSubmitted,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

// ============================================
// Submit Tests
// ============================================

func TestHandlers_SubmitOrder_Accepted(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/orders", `{"customerId":"cust-1","productId":"prod-1","quantity":2,"unitPrice":20}`, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var accepted intake.Accepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, intake.MessageAccepted, accepted.Message)
	assert.Equal(t, intake.StatusQueued, accepted.Status)
	assert.Len(t, ts.pub.Messages(order.TopicProcessing), 1)

	// Nothing is persisted synchronously.
	recs, err := ts.store.Scan(context.Background(), order.Collection)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHandlers_SubmitOrder_IdempotencyKeyHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/orders", `{"customerId":"cust-1","quantity":1}`, map[string]string{
		HeaderIdempotencyKey: "key-1",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	msgs := ts.pub.Messages(order.TopicProcessing)
	require.Len(t, msgs, 1)
	var req order.Request
	require.NoError(t, json.Unmarshal(msgs[0], &req))
	assert.Equal(t, "key-1", req.IdempotencyKey)
}

func TestHandlers_SubmitOrder_ISODateForms(t *testing.T) {
	tests := []struct {
		orderDate string
		want      time.Time
	}{
		{orderDate: "2024-03-01T12:00:00", want: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{orderDate: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.orderDate, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(http.MethodPost, "/orders", `{"customerId":"cust-1","quantity":1,"orderDate":"`+tt.orderDate+`"}`, nil)

			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			msgs := ts.pub.Messages(order.TopicProcessing)
			require.Len(t, msgs, 1)
			var req order.Request
			require.NoError(t, json.Unmarshal(msgs[0], &req))
			assert.True(t, tt.want.Equal(req.OrderDate), "got %s", req.OrderDate)
		})
	}
}

func TestHandlers_UpdateOrder_DateWithoutOffset(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder()
	ts.putOrder(t, o)

	rec := ts.do(http.MethodPut, "/orders/"+o.ID,
		`{"customerId":"cust-1","productId":"prod-1","quantity":2,"unitPrice":20,"status":"Submitted","orderDate":"2024-04-02"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC).Equal(got.OrderDate))
}

func TestHandlers_SubmitOrder_InvalidBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/orders", `{not json`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.pub.EnqueueCalls)
}

func TestHandlers_SubmitOrder_EnqueueFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.pub.EnqueueErr = errors.New("broker down")

	rec := ts.do(http.MethodPost, "/orders", `{"customerId":"cust-1"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec))
}

// ============================================
// Order CRUD Tests
// ============================================

func TestHandlers_GetOrders(t *testing.T) {
	ts := newTestServer(t)
	ts.putOrder(t, sampleOrder())

	rec := ts.do(http.MethodGet, "/orders", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var orders []order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, sampleOrder().ID, orders[0].ID)
}

func TestHandlers_GetOrder(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder()
	ts.putOrder(t, o)

	rec := ts.do(http.MethodGet, "/orders/"+o.ID, "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
	var got order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, o, got)
}

func TestHandlers_GetOrder_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/orders/missing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order not found", decodeError(t, rec))
}

func TestHandlers_UpdateOrder(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder()
	ts.putOrder(t, o)

	next := o
	next.Status = order.StatusProcessing
	next.Quantity = 3
	body, err := json.Marshal(next)
	require.NoError(t, err)

	rec := ts.do(http.MethodPut, "/orders/"+o.ID, string(body), map[string]string{
		"If-Match":   `"1"`,
		HeaderUserID: "admin",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))
	var got order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, order.StatusProcessing, got.Status)
	assert.Equal(t, 60.0, got.TotalPrice)

	msgs := ts.pub.Messages(order.TopicNotifications)
	require.Len(t, msgs, 1)
	var changed order.StatusChangedEvent
	require.NoError(t, json.Unmarshal(msgs[0], &changed))
	assert.Equal(t, "admin", changed.UpdatedBy)
}

func TestHandlers_UpdateOrder_InvalidTransition(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder()
	ts.putOrder(t, o)

	next := o
	next.Status = order.StatusCompleted
	body, err := json.Marshal(next)
	require.NoError(t, err)

	rec := ts.do(http.MethodPut, "/orders/"+o.ID, string(body), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "invalid order status transition")
}

func TestHandlers_UpdateOrder_VersionConflict(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder()
	ts.putOrder(t, o)

	body, err := json.Marshal(o)
	require.NoError(t, err)

	rec := ts.do(http.MethodPut, "/orders/"+o.ID, string(body), map[string]string{"If-Match": `W/"7"`})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlers_UpdateOrder_BadRequests(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder()
	ts.putOrder(t, o)

	rec := ts.do(http.MethodPut, "/orders/"+o.ID, `{bad`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, "/orders/"+o.ID, `{}`, map[string]string{"If-Match": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_UpdateOrder_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/orders/missing", `{"status":"Processing"}`, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_DeleteOrder(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder()
	ts.putOrder(t, o)

	rec := ts.do(http.MethodDelete, "/orders/"+o.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodDelete, "/orders/"+o.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPatch, "/orders", "", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ============================================
// Checkout Tests
// ============================================

func TestHandlers_Checkout(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "accepted", body: `{"customerId":"cust-1","productId":"prod-1","quantity":2}`, wantCode: http.StatusAccepted},
		{name: "invalid body", body: `nope`, wantCode: http.StatusBadRequest},
		{name: "zero quantity", body: `{"customerId":"cust-1","productId":"prod-1","quantity":0}`, wantCode: http.StatusBadRequest},
		{name: "unknown product", body: `{"customerId":"cust-1","productId":"prod-9","quantity":1}`, wantCode: http.StatusNotFound},
		{name: "insufficient stock", body: `{"customerId":"cust-1","productId":"prod-1","quantity":6}`, wantCode: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(http.MethodPost, "/checkout", tt.body, nil)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

// ============================================
// Product & Health Tests
// ============================================

func TestHandlers_Products(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []product.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)

	rec = ts.do(http.MethodGet, "/products/prod-1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Product not found", decodeError(t, rec))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts.do(http.MethodGet, "/orders", "", nil)
	rec = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "order_pipeline_http_requests_total")
}

func TestParseIfMatch(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{header: "", want: 0},
		{header: "*", want: 0},
		{header: `"3"`, want: 3},
		{header: `W/"4"`, want: 4},
		{header: "5", want: 5},
		{header: `"0"`, wantErr: true},
		{header: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := parseIfMatch(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
