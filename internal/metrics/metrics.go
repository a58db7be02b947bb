// Package metrics holds the Prometheus collectors for the Exchange connector
// and a small HTTP server that exposes them.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "exchangesync"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics groups the connector collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ews_requests_total",
			Help:      "EWS requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ews_request_duration_seconds",
			Help:      "EWS request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Item change notifications by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_reconnects_total",
			Help:      "Streaming subscription reconnects by reason.",
		}, []string{"reason"}),
	}
	m.Registry.MustRegister(m.requests, m.requestDuration, m.notifications, m.reconnects)
	return m
}

// ObserveRequest records one EWS call. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome(err)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveNotification records the handling of one item event
func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome(err)).Inc()
}

// ObserveReconnect records a subscription reconnect
func (m *Metrics) ObserveReconnect(reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide collectors used by the CLI
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}
