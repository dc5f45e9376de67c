package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// orderDate Decoding Tests
// ============================================

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-03-01T12:00:00Z", want: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{in: "2024-03-01T12:00:00.5+02:00", want: time.Date(2024, 3, 1, 10, 0, 0, 500000000, time.UTC)},
		{in: "2024-03-01T12:00:00", want: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{in: "2024-03-01T12:00:00.1234567", want: time.Date(2024, 3, 1, 12, 0, 0, 123456700, time.UTC)},
		{in: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{in: "01/03/2024", wantErr: true},
		{in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestRequest_UnmarshalJSON_OrderDateForms(t *testing.T) {
	tests := map[string]time.Time{
		`"2024-03-01T12:00:00Z"`: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		`"2024-03-01T12:00:00"`:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		`"2024-03-01"`:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		`null`:                   {},
		`""`:                     {},
	}

	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			var req Request
			err := json.Unmarshal([]byte(`{"customerId":"cust-1","quantity":2,"orderDate":`+raw+`}`), &req)

			require.NoError(t, err)
			assert.True(t, want.Equal(req.OrderDate), "got %s", req.OrderDate)
			assert.Equal(t, "cust-1", req.CustomerID)
			assert.Equal(t, 2, req.Quantity)
		})
	}
}

func TestRequest_UnmarshalJSON_MissingOrderDate(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"customerId":"cust-1","idempotencyKey":"k-1"}`), &req))

	assert.True(t, req.OrderDate.IsZero())
	assert.Equal(t, "k-1", req.IdempotencyKey)
}

func TestRequest_UnmarshalJSON_RejectsBadOrderDate(t *testing.T) {
	for _, raw := range []string{`"next tuesday"`, `20240301`} {
		var req Request
		assert.Error(t, json.Unmarshal([]byte(`{"orderDate":`+raw+`}`), &req), raw)
	}
}

func TestOrder_UnmarshalJSON_OrderDateWithoutOffset(t *testing.T) {
	var o Order
	require.NoError(t, json.Unmarshal([]byte(`{"id":"o-1","status":"Processing","orderDate":"2024-03-01T08:30:00"}`), &o))

	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.True(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC).Equal(o.OrderDate))
}

func TestRequest_OrderDateRoundTripsAsRFC3339(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"orderDate":"2024-03-01"}`), &req))

	b, err := json.Marshal(req)
	require.NoError(t, err)

	assert.Contains(t, string(b), `"orderDate":"2024-03-01T00:00:00Z"`)
}
