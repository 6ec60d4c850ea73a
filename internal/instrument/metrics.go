package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid_signature"
	OutcomeDenied   = "policy_denied"
	OutcomeInput    = "invalid_input"
	OutcomeNotImpl  = "not_implemented"
	OutcomeBackend  = "backend_error"
	OutcomeIO       = "io_error"
	OutcomeRotation = "rotation_partial"
)

// Metrics holds the operation collectors on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encrypto_operations_total",
			Help: "Backend operations by outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "encrypto_operation_duration_seconds",
			Help:    "Backend operation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"operation"}),
	}
	m.registry.MustRegister(m.operations, m.duration)
	return m
}

// Registry exposes the registry for extra collectors and tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observe(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(seconds)
}
