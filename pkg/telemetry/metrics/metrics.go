// Package metrics exposes prometheus instrumentation for the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains configuration for metrics collection.
type Config struct {
	// Enabled turns the /metrics endpoint on.
	Enabled bool `yaml:"enabled"`

	// Path is the metrics endpoint path.
	Path string `yaml:"path"`

	// Namespace is the prometheus metric namespace.
	Namespace string `yaml:"namespace"`
}

// RequestMetrics tracks metrics for API request processing.
//
// Metrics:
//   - atrium_requests_total: request count by method, route, status
//   - atrium_request_duration_seconds: request duration histogram
type RequestMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRequestMetrics creates request metrics registered in a fresh
// registry.
func NewRequestMetrics(namespace string) *RequestMetrics {
	if namespace == "" {
		namespace = "atrium"
	}
	rm := &RequestMetrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "route", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of API requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	rm.registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
	)

	return rm
}

// RecordRequest records metrics for a completed request. The route label
// is the registered route pattern, not the raw path, to keep cardinality
// bounded.
func (rm *RequestMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	s := statusClass(status)
	rm.requestsTotal.WithLabelValues(method, route, s).Inc()
	rm.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the scrape endpoint handler for this registry.
func (rm *RequestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(rm.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
