package go_xmppgate

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting client metrics.
// Applications plug in their own implementation (Prometheus, StatsD, logs)
// or use InMemoryMetrics / PrometheusMetrics.
//
// All methods are safe for concurrent use and should be non-blocking.
type MetricsCollector interface {
	// IncrementStanzaSent counts an outbound IQ by kind (KIND_DISCO_ITEMS, ...).
	IncrementStanzaSent(kind string)

	// IncrementStanzaReceived counts an inbound IQ by kind.
	IncrementStanzaReceived(kind string)

	// SetActiveDiscoSessions updates the gauge of discovery sessions in the table.
	SetActiveDiscoSessions(count int)

	// SetPendingRegistrations updates the gauge of pending registration requests
	// across all three kinds.
	SetPendingRegistrations(count int)

	// IncrementError increments the error counter by error type
	// ("send", "protocol", "timeout", "stale").
	IncrementError(errorType string)

	// RecordRequestLatency records how long a completed exchange took.
	RecordRequestLatency(kind string, duration time.Duration)
}

// InMemoryMetrics is a MetricsCollector keeping everything in memory.
// Suitable for development, testing, and applications that want basic metrics
// without external dependencies.
type InMemoryMetrics struct {
	countersMu sync.RWMutex
	sent       map[string]uint64
	received   map[string]uint64
	errors     map[string]uint64

	activeDiscoSessions  int32
	pendingRegistrations int32

	latencyMu     sync.RWMutex
	latencyByKind map[string]*latencyStats
}

// latencyStats tracks latency statistics for one request kind
type latencyStats struct {
	count      uint64
	totalNanos uint64
	minNanos   uint64
	maxNanos   uint64
}

// NewInMemoryMetrics creates a new in-memory metrics collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	m := &InMemoryMetrics{}
	m.Reset()
	return m
}

// IncrementStanzaSent increments the sent counter for kind.
func (m *InMemoryMetrics) IncrementStanzaSent(kind string) {
	m.countersMu.Lock()
	m.sent[kind]++
	m.countersMu.Unlock()
}

// IncrementStanzaReceived increments the received counter for kind.
func (m *InMemoryMetrics) IncrementStanzaReceived(kind string) {
	m.countersMu.Lock()
	m.received[kind]++
	m.countersMu.Unlock()
}

// SetActiveDiscoSessions updates the discovery session gauge.
func (m *InMemoryMetrics) SetActiveDiscoSessions(count int) {
	atomic.StoreInt32(&m.activeDiscoSessions, int32(count))
}

// SetPendingRegistrations updates the pending registration gauge.
func (m *InMemoryMetrics) SetPendingRegistrations(count int) {
	atomic.StoreInt32(&m.pendingRegistrations, int32(count))
}

// IncrementError increments the error counter for the given error type.
func (m *InMemoryMetrics) IncrementError(errorType string) {
	m.countersMu.Lock()
	m.errors[errorType]++
	m.countersMu.Unlock()
}

// RecordRequestLatency records the latency for a request kind.
func (m *InMemoryMetrics) RecordRequestLatency(kind string, duration time.Duration) {
	nanos := uint64(duration.Nanoseconds())

	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	stats := m.latencyByKind[kind]
	if stats == nil {
		stats = &latencyStats{
			minNanos: nanos,
			maxNanos: nanos,
		}
		m.latencyByKind[kind] = stats
	}

	stats.count++
	stats.totalNanos += nanos

	if nanos < stats.minNanos {
		stats.minNanos = nanos
	}
	if nanos > stats.maxNanos {
		stats.maxNanos = nanos
	}
}

// StanzasSent returns the number of IQs sent of the given kind.
func (m *InMemoryMetrics) StanzasSent(kind string) uint64 {
	m.countersMu.RLock()
	defer m.countersMu.RUnlock()
	return m.sent[kind]
}

// StanzasReceived returns the number of IQs received of the given kind.
func (m *InMemoryMetrics) StanzasReceived(kind string) uint64 {
	m.countersMu.RLock()
	defer m.countersMu.RUnlock()
	return m.received[kind]
}

// ActiveDiscoSessions returns the last reported discovery session count.
func (m *InMemoryMetrics) ActiveDiscoSessions() int {
	return int(atomic.LoadInt32(&m.activeDiscoSessions))
}

// PendingRegistrations returns the last reported pending registration count.
func (m *InMemoryMetrics) PendingRegistrations() int {
	return int(atomic.LoadInt32(&m.pendingRegistrations))
}

// Errors returns the total count of errors by type.
func (m *InMemoryMetrics) Errors(errorType string) uint64 {
	m.countersMu.RLock()
	defer m.countersMu.RUnlock()
	return m.errors[errorType]
}

// AllErrors returns a copy of all error counts by type.
func (m *InMemoryMetrics) AllErrors() map[string]uint64 {
	m.countersMu.RLock()
	defer m.countersMu.RUnlock()

	result := make(map[string]uint64, len(m.errors))
	for k, v := range m.errors {
		result[k] = v
	}
	return result
}

// LatencyCount returns how many latencies were recorded for kind.
func (m *InMemoryMetrics) LatencyCount(kind string) uint64 {
	m.latencyMu.RLock()
	defer m.latencyMu.RUnlock()
	if stats := m.latencyByKind[kind]; stats != nil {
		return stats.count
	}
	return 0
}

// AvgLatency returns the average latency for a request kind.
// Returns 0 if no measurements have been recorded.
func (m *InMemoryMetrics) AvgLatency(kind string) time.Duration {
	m.latencyMu.RLock()
	defer m.latencyMu.RUnlock()

	stats := m.latencyByKind[kind]
	if stats == nil || stats.count == 0 {
		return 0
	}
	return time.Duration(stats.totalNanos / stats.count)
}

// MinLatency returns the minimum latency for a request kind.
func (m *InMemoryMetrics) MinLatency(kind string) time.Duration {
	m.latencyMu.RLock()
	defer m.latencyMu.RUnlock()
	if stats := m.latencyByKind[kind]; stats != nil {
		return time.Duration(stats.minNanos)
	}
	return 0
}

// MaxLatency returns the maximum latency for a request kind.
func (m *InMemoryMetrics) MaxLatency(kind string) time.Duration {
	m.latencyMu.RLock()
	defer m.latencyMu.RUnlock()
	if stats := m.latencyByKind[kind]; stats != nil {
		return time.Duration(stats.maxNanos)
	}
	return 0
}

// Reset clears all metrics. Useful for testing.
func (m *InMemoryMetrics) Reset() {
	m.countersMu.Lock()
	m.sent = make(map[string]uint64)
	m.received = make(map[string]uint64)
	m.errors = make(map[string]uint64)
	m.countersMu.Unlock()

	atomic.StoreInt32(&m.activeDiscoSessions, 0)
	atomic.StoreInt32(&m.pendingRegistrations, 0)

	m.latencyMu.Lock()
	m.latencyByKind = make(map[string]*latencyStats)
	m.latencyMu.Unlock()
}
