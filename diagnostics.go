package go_xmppgate

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DiscoSessionInfo describes one discovery session in a Diagnostics snapshot.
type DiscoSessionInfo struct {
	Target    string
	Mode      DiscoMode
	Total     int
	Remaining int
	Age       time.Duration
}

// PendingRequestInfo describes one pending registration request.
type PendingRequestInfo struct {
	Kind   string
	Target string
	Stage  string // "query", "remove" or "submit"
	Age    time.Duration
}

// Diagnostics is a point-in-time view of the client's correlation tables,
// useful when a response never seems to arrive.
type Diagnostics struct {
	Taken          time.Time
	Closed         bool
	Handlers       int
	DiscoSessions  []DiscoSessionInfo
	Pending        []PendingRequestInfo
	AccountLists   int
	Accounts       int
	CircuitBreaker CircuitState
}

// Diagnostics returns a snapshot of the client's pending state.
func (c *Client) Diagnostics() Diagnostics {
	if err := c.ensureInitialized(); err != nil {
		return Diagnostics{}
	}

	c.lock.Lock()
	now := c.clock.Now()
	d := Diagnostics{
		Taken:          now,
		Closed:         c.closed,
		Handlers:       len(c.handlers),
		CircuitBreaker: c.circuitBreaker.State(),
		AccountLists:   len(c.accountLists),
	}
	for key, s := range c.discoSessions {
		d.DiscoSessions = append(d.DiscoSessions, DiscoSessionInfo{
			Target:    key,
			Mode:      s.mode,
			Total:     s.total,
			Remaining: s.remaining,
			Age:       now.Sub(s.started),
		})
	}
	for key, r := range c.unregisterReq {
		stage := "remove"
		if r.firstResponse {
			stage = "query"
		}
		d.Pending = append(d.Pending, PendingRequestInfo{Kind: r.kind, Target: key, Stage: stage, Age: now.Sub(r.started)})
	}
	for key, r := range c.requirementsReq {
		d.Pending = append(d.Pending, PendingRequestInfo{Kind: r.kind, Target: key, Stage: "query", Age: now.Sub(r.started)})
	}
	for key, r := range c.registerReq {
		d.Pending = append(d.Pending, PendingRequestInfo{Kind: r.kind, Target: key, Stage: "submit", Age: now.Sub(r.started)})
	}
	lists := append([]*TransportAccountList(nil), c.accountLists...)
	c.lock.Unlock()

	for _, l := range lists {
		d.Accounts += l.Len()
	}

	sort.Slice(d.DiscoSessions, func(i, j int) bool { return d.DiscoSessions[i].Target < d.DiscoSessions[j].Target })
	sort.Slice(d.Pending, func(i, j int) bool {
		if d.Pending[i].Kind != d.Pending[j].Kind {
			return d.Pending[i].Kind < d.Pending[j].Kind
		}
		return d.Pending[i].Target < d.Pending[j].Target
	})
	return d
}

// Summary renders the snapshot for logs.
func (d Diagnostics) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== xmppgate diagnostics (%s) ===\n", d.Taken.Format(time.RFC3339))
	fmt.Fprintf(&b, "closed=%v handlers=%d breaker=%s lists=%d accounts=%d\n",
		d.Closed, d.Handlers, d.CircuitBreaker, d.AccountLists, d.Accounts)

	fmt.Fprintf(&b, "Discovery sessions: %d\n", len(d.DiscoSessions))
	for _, s := range d.DiscoSessions {
		fmt.Fprintf(&b, "  %s [%s] %d/%d pending, age %v\n", s.Target, s.Mode, s.Remaining, s.Total, s.Age)
	}

	fmt.Fprintf(&b, "Registration requests: %d\n", len(d.Pending))
	for _, p := range d.Pending {
		fmt.Fprintf(&b, "  %s %s (%s), age %v\n", p.Kind, p.Target, p.Stage, p.Age)
	}
	return b.String()
}
