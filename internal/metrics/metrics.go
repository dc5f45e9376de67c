package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "order_pipeline"

// Metrics holds every collector the pipeline records into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OrdersSubmitted   *prometheus.CounterVec
	OrdersProcessed   *prometheus.CounterVec
	ProcessDuration   prometheus.Histogram
	Notifications     *prometheus.CounterVec
	StockReservations *prometheus.CounterVec
	MessagesConsumed  *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Order requests handed to the queue, by outcome.",
		}, []string{"outcome"}),
		OrdersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Order messages handled by the processor, by outcome.",
		}, []string{"outcome"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_process_duration_seconds",
			Help:      "Time spent handling one order message.",
			Buckets:   prometheus.DefBuckets,
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification fan-out attempts, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		StockReservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_reservations_total",
			Help:      "Stock decrement attempts, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_consumed_total",
			Help:      "Messages delivered to handlers, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrdersSubmitted,
		m.OrdersProcessed,
		m.ProcessDuration,
		m.Notifications,
		m.StockReservations,
		m.MessagesConsumed,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.OrdersSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncProcessed(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.OrdersProcessed.WithLabelValues(outcome).Inc()
	m.ProcessDuration.Observe(seconds)
}

func (m *Metrics) IncNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncReservation(mode, outcome string) {
	if m == nil {
		return
	}
	m.StockReservations.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) IncConsumed(topic, outcome string) {
	if m == nil {
		return
	}
	m.MessagesConsumed.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

// RegisterQueueDepth exposes pending(), sampled at scrape time, as the depth
// of topic. Registering a topic twice is an error.
func (m *Metrics) RegisterQueueDepth(topic string, pending func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "queue_pending_messages",
		Help:        "Messages ready or in flight on an in-process queue topic.",
		ConstLabels: prometheus.Labels{"topic": topic},
	}, pending))
}
