package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectAttempt(ResultConnected)
	m.ConnectAttempt(ResultTimeout)
	m.ConnectAttempt(ResultConnected)
	m.TestsDiscovered(3)
	m.TestsDiscovered(0)
	m.ExtensionScan("discoverer")
	m.SessionEnded("Success", time.Now().Add(-time.Second))

	assert.InDelta(t, 2, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(ResultConnected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(ResultTimeout)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.DiscoveredTests), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ExtensionScans.WithLabelValues("discoverer")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sessions.WithLabelValues("Success")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectAttempt(ResultFailure)
		m.TestsDiscovered(1)
		m.ExtensionScan("discoverer")
		m.SessionEnded("Failure", time.Now())
	})
}
