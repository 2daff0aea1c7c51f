package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.CountRequest("h2", "ok")
	m.CountRequest("h2", "ok")
	m.CountRequest("http/1.1", "error")
	m.CountDecode("jpeg", "ok")
	m.ObservePhase("layout", time.Now().Add(-time.Millisecond))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("h2", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("http/1.1", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageDecodes.WithLabelValues("jpeg", "ok")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CountRequest("h2", "ok")
		m.CountDecode("png", "error")
		m.ObservePhase("paint", time.Now())
	})
}

func TestTracer_NoopProvider(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "load")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}
