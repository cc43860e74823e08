package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the catalog service.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	OrdersTotal     *prometheus.CounterVec
	OrderValueCents prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all metrics registered on a
// private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicecart"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Total number of catalog API requests",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_request_duration_seconds",
			Help:      "Catalog request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"endpoint"},
	)

	ordersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Total number of recorded orders",
		},
		[]string{"status"},
	)

	orderValueCents := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_value_cents",
			Help:      "Recorded order value in currency cents",
			Buckets:   []float64{500, 1000, 2000, 5000, 10000, 25000},
		},
	)

	registry.MustRegister(requestsTotal, requestDuration, ordersTotal, orderValueCents)

	return &Metrics{
		registry:        registry,
		RequestsTotal:   requestsTotal,
		RequestDuration: requestDuration,
		OrdersTotal:     ordersTotal,
		OrderValueCents: orderValueCents,
	}
}

// Handler returns the metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed API request.
func (m *Metrics) RecordRequest(endpoint, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordOrder records one accepted order.
func (m *Metrics) RecordOrder(status string, totalCents int64) {
	m.OrdersTotal.WithLabelValues(status).Inc()
	m.OrderValueCents.Observe(float64(totalCents))
}
