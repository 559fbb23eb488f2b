// Package metrics holds the prometheus collectors of the test host orchestration.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "testhost"

// Connection attempt results.
const (
	ResultConnected = "connected"
	ResultTimeout   = "timeout"
	ResultFailure   = "failure"
)

type Metrics struct {
	ConnectAttempts *prometheus.CounterVec
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	DiscoveredTests prometheus.Counter
	ExtensionScans  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Total number of connection attempts to test hosts",
			},
			[]string{"result"},
		),
		Sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_sessions_total",
				Help:      "Total number of finished discovery sessions by terminal status",
			},
			[]string{"status"},
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_session_duration_seconds",
				Help:      "Duration of discovery sessions from dispatch to end of session",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DiscoveredTests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovered_tests_total",
				Help:      "Total number of tests delivered to event sinks",
			},
		),
		ExtensionScans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extension_scans_total",
				Help:      "Total number of extension scans by extension kind",
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.ConnectAttempts, m.Sessions, m.SessionDuration, m.DiscoveredTests, m.ExtensionScans)
	}

	return m
}

func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionEnded(status string, started time.Time) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(status).Inc()
	if !started.IsZero() {
		m.SessionDuration.Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) TestsDiscovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DiscoveredTests.Add(float64(n))
}

func (m *Metrics) ExtensionScan(kind string) {
	if m == nil {
		return
	}
	m.ExtensionScans.WithLabelValues(kind).Inc()
}
