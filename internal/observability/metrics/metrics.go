package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures metric construction.
type Config struct {
	ServiceName string
	Environment string
}

// HTTPMetrics instruments the gin surface.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers HTTP request instruments on the default registry.
func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	labels := prometheus.Labels{
		"service": normalizeService(cfg.ServiceName),
		"env":     strings.TrimSpace(cfg.Environment),
	}

	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "payway_http_requests_total",
			Help:        "HTTP requests by route, method and status.",
			ConstLabels: labels,
		}, []string{"route", "method", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "payway_http_request_duration_seconds",
			Help:        "HTTP request latency by route and method.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Observe records one completed request.
func (m *HTTPMetrics) Observe(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, status).Inc()
	m.duration.WithLabelValues(route, method).Observe(seconds)
}

// Metrics exposes application-level instruments.
type Metrics struct {
	pspSubmissions    *prometheus.CounterVec
	pspCallbacks      *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
}

// New registers the domain instruments on the default registry.
func New(cfg Config) *Metrics {
	labels := prometheus.Labels{
		"service": normalizeService(cfg.ServiceName),
		"env":     strings.TrimSpace(cfg.Environment),
	}

	return &Metrics{
		pspSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "payway_psp_submissions_total",
			Help:        "Processor submissions by operation type and outcome.",
			ConstLabels: labels,
		}, []string{"type", "outcome"}),
		pspCallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "payway_psp_callbacks_total",
			Help:        "Processor callbacks by operation type and reported status.",
			ConstLabels: labels,
		}, []string{"type", "status"}),
		webhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "payway_webhook_deliveries_total",
			Help:        "Merchant webhook delivery attempts by outcome.",
			ConstLabels: labels,
		}, []string{"event_type", "outcome"}),
	}
}

// RecordPSPSubmission increments processor submission counts.
func (m *Metrics) RecordPSPSubmission(opType, outcome string) {
	if m == nil {
		return
	}
	m.pspSubmissions.WithLabelValues(opType, outcome).Inc()
}

// RecordPSPCallback increments processor callback counts.
func (m *Metrics) RecordPSPCallback(opType, status string) {
	if m == nil {
		return
	}
	m.pspCallbacks.WithLabelValues(opType, status).Inc()
}

// RecordWebhookDelivery increments webhook delivery attempt counts.
func (m *Metrics) RecordWebhookDelivery(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(eventType, outcome).Inc()
}

func normalizeService(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "payway"
	}
	return name
}
