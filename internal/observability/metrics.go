// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Metrics groups the engine's prometheus collectors. Each instance owns a
// private registry so tests and multiple engines never collide.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	ImageDecodes  *prometheus.CounterVec
}

// NewMetrics creates and registers the engine collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loupe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by negotiated protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loupe",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration of page pipeline phases.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"phase"}),
		ImageDecodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loupe",
			Subsystem: "imaging",
			Name:      "decodes_total",
			Help:      "Image decode attempts by format and outcome.",
		}, []string{"format", "outcome"}),
	}
	m.Registry.MustRegister(m.HTTPRequests, m.PhaseDuration, m.ImageDecodes)
	return m
}

// ObservePhase records the time elapsed since start under the given phase label.
// A nil receiver is a no-op so components can run without metrics.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// CountRequest increments the request counter.
func (m *Metrics) CountRequest(protocol, outcome string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(protocol, outcome).Inc()
}

// CountDecode increments the image decode counter.
func (m *Metrics) CountDecode(format, outcome string) {
	if m == nil {
		return
	}
	m.ImageDecodes.WithLabelValues(format, outcome).Inc()
}

// Tracer returns the engine tracer from the global otel provider. Without an
// installed SDK this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/xkilldash9x/loupe")
}
