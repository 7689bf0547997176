package go_xmppgate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics is a MetricsCollector exporting to Prometheus.
type PrometheusMetrics struct {
	stanzasSent          *prometheus.CounterVec   // By kind
	stanzasReceived      *prometheus.CounterVec   // By kind
	errors               *prometheus.CounterVec   // By error_type
	requestDuration      *prometheus.HistogramVec // By kind
	activeDiscoSessions  prometheus.Gauge
	pendingRegistrations prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		stanzasSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xmppgate",
			Name:      "stanzas_sent_total",
			Help:      "Total number of IQ stanzas sent",
		}, []string{"kind"}),

		stanzasReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xmppgate",
			Name:      "stanzas_received_total",
			Help:      "Total number of IQ stanzas received",
		}, []string{"kind"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xmppgate",
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		}, []string{"error_type"}), // error_type: send, protocol, timeout, stale

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xmppgate",
			Name:      "request_duration_seconds",
			Help:      "Duration of completed discovery and registration exchanges",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 60},
		}, []string{"kind"}),

		activeDiscoSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xmppgate",
			Subsystem: "disco",
			Name:      "active_sessions",
			Help:      "Discovery sessions currently in the session table",
		}),

		pendingRegistrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xmppgate",
			Subsystem: "register",
			Name:      "pending_requests",
			Help:      "Registration requests awaiting a response",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.stanzasSent,
		m.stanzasReceived,
		m.errors,
		m.requestDuration,
		m.activeDiscoSessions,
		m.pendingRegistrations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) IncrementStanzaSent(kind string) {
	m.stanzasSent.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) IncrementStanzaReceived(kind string) {
	m.stanzasReceived.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) SetActiveDiscoSessions(count int) {
	m.activeDiscoSessions.Set(float64(count))
}

func (m *PrometheusMetrics) SetPendingRegistrations(count int) {
	m.pendingRegistrations.Set(float64(count))
}

func (m *PrometheusMetrics) IncrementError(errorType string) {
	m.errors.WithLabelValues(errorType).Inc()
}

func (m *PrometheusMetrics) RecordRequestLatency(kind string, duration time.Duration) {
	m.requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
