package intake

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/order-pipeline/internal/domain/order"
	"github.com/example/order-pipeline/internal/infrastructure/queue/mocks"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() order.Request {
	return order.Request{
		CustomerID:  "cust-1",
		Username:    "jdoe",
		ProductID:   "prod-1",
		ProductName: "Keyboard",
		OrderDate:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Quantity:    2,
		UnitPrice:   49.99,
		TotalPrice:  1, // intentionally wrong, must pass through untouched
		Status:      "Shipped",
	}
}

// ============================================
// Submit Tests
// ============================================

func TestGateway_Submit_EnqueuesExactlyOneUnchangedMessage(t *testing.T) {
	pub := mocks.NewMockPublisher()
	g := NewGateway(pub)
	req := sampleRequest()

	accepted, err := g.Submit(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, &Accepted{Message: "Order submitted for processing", Status: "queued"}, accepted)

	msgs := pub.Messages(order.TopicProcessing)
	require.Len(t, msgs, 1)
	assert.Len(t, pub.EnqueueCalls, 1)

	var got order.Request
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, req, got)
}

func TestGateway_Submit_PayloadUsesWireFieldNames(t *testing.T) {
	pub := mocks.NewMockPublisher()
	g := NewGateway(pub)

	_, err := g.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(pub.Messages(order.TopicProcessing)[0], &fields))
	for _, k := range []string{"customerId", "username", "productId", "productName", "orderDate", "quantity", "unitPrice", "totalPrice", "status"} {
		assert.Contains(t, fields, k)
	}
	assert.NotContains(t, fields, "idempotencyKey")
}

func TestGateway_Submit_EmptyRequestIsAccepted(t *testing.T) {
	pub := mocks.NewMockPublisher()
	g := NewGateway(pub)

	accepted, err := g.Submit(context.Background(), order.Request{})

	require.NoError(t, err)
	assert.Equal(t, StatusQueued, accepted.Status)
	assert.Len(t, pub.Messages(order.TopicProcessing), 1)
}

func TestGateway_Submit_CustomTopic(t *testing.T) {
	pub := mocks.NewMockPublisher()
	g := NewGateway(pub, WithTopic("orders-v2"))

	_, err := g.Submit(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.Len(t, pub.Messages("orders-v2"), 1)
	assert.Empty(t, pub.Messages(order.TopicProcessing))
}

func TestGateway_Submit_EnqueueFailure(t *testing.T) {
	pub := mocks.NewMockPublisher()
	pub.EnqueueErr = errors.New("broker unavailable")
	m := metrics.New()
	g := NewGateway(pub, WithMetrics(m))

	accepted, err := g.Submit(context.Background(), sampleRequest())

	assert.Nil(t, accepted)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnqueueFailed)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("error")))
}

func TestGateway_Submit_RecordsQueuedMetric(t *testing.T) {
	m := metrics.New()
	g := NewGateway(mocks.NewMockPublisher(), WithMetrics(m))

	_, err := g.Submit(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("queued")))
}
