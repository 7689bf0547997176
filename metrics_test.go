package go_xmppgate

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestInMemoryMetrics tests the in-memory metrics collector
func TestInMemoryMetrics(t *testing.T) {
	m := NewInMemoryMetrics()

	m.IncrementStanzaSent(KIND_DISCO_ITEMS)
	m.IncrementStanzaSent(KIND_DISCO_ITEMS)
	m.IncrementStanzaReceived(KIND_DISCO_INFO)
	m.IncrementError("timeout")
	m.SetActiveDiscoSessions(3)
	m.SetPendingRegistrations(2)
	m.RecordRequestLatency(KIND_REGISTER, 100*time.Millisecond)
	m.RecordRequestLatency(KIND_REGISTER, 300*time.Millisecond)

	if m.StanzasSent(KIND_DISCO_ITEMS) != 2 || m.StanzasReceived(KIND_DISCO_INFO) != 1 {
		t.Error("stanza counters wrong")
	}
	if m.Errors("timeout") != 1 || m.Errors("send") != 0 {
		t.Error("error counters wrong")
	}
	if m.ActiveDiscoSessions() != 3 || m.PendingRegistrations() != 2 {
		t.Error("gauges wrong")
	}
	if m.LatencyCount(KIND_REGISTER) != 2 {
		t.Errorf("LatencyCount = %d", m.LatencyCount(KIND_REGISTER))
	}
	if m.AvgLatency(KIND_REGISTER) != 200*time.Millisecond {
		t.Errorf("AvgLatency = %v", m.AvgLatency(KIND_REGISTER))
	}
	if m.MinLatency(KIND_REGISTER) != 100*time.Millisecond || m.MaxLatency(KIND_REGISTER) != 300*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", m.MinLatency(KIND_REGISTER), m.MaxLatency(KIND_REGISTER))
	}

	errs := m.AllErrors()
	errs["timeout"] = 99
	if m.Errors("timeout") != 1 {
		t.Error("AllErrors() should return a copy")
	}

	m.Reset()
	if m.StanzasSent(KIND_DISCO_ITEMS) != 0 || m.ActiveDiscoSessions() != 0 || m.AvgLatency(KIND_REGISTER) != 0 {
		t.Error("Reset() left data behind")
	}
}

// gatheredValue returns the value of the named metric with the given label
// pair from reg: counter and gauge values, or the sample count of a histogram.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					match = true
				}
			}
			if !match {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

// TestPrometheusMetrics tests the Prometheus collectors through a private registry
func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}

	m.IncrementStanzaSent(KIND_DISCO_INFO)
	m.IncrementStanzaReceived(KIND_DISCO_INFO)
	m.IncrementStanzaReceived(KIND_DISCO_INFO)
	m.IncrementError("stale")
	m.SetActiveDiscoSessions(4)
	m.SetPendingRegistrations(1)
	m.RecordRequestLatency(KIND_UNREGISTER, 2*time.Second)

	checks := []struct {
		name, label, value string
		want               float64
	}{
		{"xmppgate_stanzas_sent_total", "kind", KIND_DISCO_INFO, 1},
		{"xmppgate_stanzas_received_total", "kind", KIND_DISCO_INFO, 2},
		{"xmppgate_errors_total", "error_type", "stale", 1},
		{"xmppgate_disco_active_sessions", "", "", 4},
		{"xmppgate_register_pending_requests", "", "", 1},
		{"xmppgate_request_duration_seconds", "kind", KIND_UNREGISTER, 1},
	}
	for _, c := range checks {
		if got := gatheredValue(t, reg, c.name, c.label, c.value); got != c.want {
			t.Errorf("%s{%s=%q} = %v, want %v", c.name, c.label, c.value, got, c.want)
		}
	}

	if _, err := NewPrometheusMetrics(reg); err == nil {
		t.Error("registering the collectors twice should fail")
	}
}

// TestClientReportsMetrics tests the metrics a client emits over a request lifecycle
func TestClientReportsMetrics(t *testing.T) {
	c, mock, transport := newTestClient(t)
	m := NewInMemoryMetrics()
	c.SetMetrics(m)

	if _, err := c.RequestItems(mustJID(t, "example.com"), nil); err != nil {
		t.Fatal(err)
	}
	gw := mustJID(t, "icq.example.com")
	if err := c.QueryRequirements(gw, nil); err != nil {
		t.Fatal(err)
	}

	if m.StanzasSent(KIND_DISCO_ITEMS) != 1 || m.StanzasSent("register_query") != 1 {
		t.Errorf("sent counters: items=%d register=%d", m.StanzasSent(KIND_DISCO_ITEMS), m.StanzasSent("register_query"))
	}
	if m.ActiveDiscoSessions() != 1 || m.PendingRegistrations() != 1 {
		t.Errorf("gauges: sessions=%d pending=%d", m.ActiveDiscoSessions(), m.PendingRegistrations())
	}

	mock.Add(3 * time.Second)
	form := transport.LastNS("icq.example.com", NS_REGISTER)
	c.HandleIQ(registerForm(form, nil))
	if m.PendingRegistrations() != 0 {
		t.Errorf("pending = %d after the answer", m.PendingRegistrations())
	}
	if m.LatencyCount(KIND_REQUIREMENTS) != 1 || m.AvgLatency(KIND_REQUIREMENTS) != 3*time.Second {
		t.Errorf("requirements latency: n=%d avg=%v", m.LatencyCount(KIND_REQUIREMENTS), m.AvgLatency(KIND_REQUIREMENTS))
	}
	if m.StanzasReceived("register_query") != 1 {
		t.Error("inbound stanza not counted")
	}

	// The same answer again is stale.
	c.HandleIQ(registerForm(form, nil))
	if m.Errors("stale") != 1 {
		t.Errorf("stale errors = %d", m.Errors("stale"))
	}

	c.SetMetrics(nil)
	if c.GetMetrics() != nil {
		t.Error("SetMetrics(nil) should disable metrics")
	}
}
