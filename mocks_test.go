package go_xmppgate

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"mellium.im/xmpp/disco/info"
	discoitems "mellium.im/xmpp/disco/items"
	"mellium.im/xmpp/jid"
)

// recordingTransport records every outbound IQ. When err is set, SendIQ
// fails with it instead.
type recordingTransport struct {
	mu   sync.Mutex
	sent []*IQ
	err  error
}

func (t *recordingTransport) SendIQ(iq *IQ) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, iq)
	return nil
}

func (t *recordingTransport) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *recordingTransport) Sent() []*IQ {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*IQ(nil), t.sent...)
}

// Last returns the most recent IQ sent to the given address.
func (t *recordingTransport) Last(to string) *IQ {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sent) - 1; i >= 0; i-- {
		if t.sent[i].To.String() == to {
			return t.sent[i]
		}
	}
	return nil
}

// LastNS returns the most recent IQ sent to the given address in namespace ns.
func (t *recordingTransport) LastNS(to, ns string) *IQ {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sent) - 1; i >= 0; i-- {
		if t.sent[i].To.String() == to && t.sent[i].QueryNamespace() == ns {
			return t.sent[i]
		}
	}
	return nil
}

// SentTo counts the IQs sent to the given address in namespace ns.
func (t *recordingTransport) SentTo(to, ns string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, iq := range t.sent {
		if iq.To.String() == to && iq.QueryNamespace() == ns {
			n++
		}
	}
	return n
}

// fakeRoster is an in-memory Roster. RemoveContact only records the call;
// tests drive removal notifications explicitly.
type fakeRoster struct {
	mu        sync.Mutex
	contacts  []jid.JID
	removed   []jid.JID
	removeErr map[string]error
	observers []RosterObserver
}

func newFakeRoster(contacts ...string) *fakeRoster {
	r := &fakeRoster{removeErr: make(map[string]error)}
	for _, c := range contacts {
		r.contacts = append(r.contacts, jid.MustParse(c))
	}
	return r
}

func (r *fakeRoster) Contacts() []jid.JID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]jid.JID(nil), r.contacts...)
}

func (r *fakeRoster) RemoveContact(j jid.JID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, j)
	return r.removeErr[j.String()]
}

func (r *fakeRoster) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, j := range r.removed {
		out = append(out, j.String())
	}
	return out
}

func (r *fakeRoster) Subscribe(o RosterObserver) func() {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, x := range r.observers {
			if x == o {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *fakeRoster) Add(s string) {
	j := jid.MustParse(s)
	r.mu.Lock()
	r.contacts = append(r.contacts, j)
	observers := append([]RosterObserver(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o.ItemAdded(j)
	}
}

func (r *fakeRoster) Drop(s string) {
	j := jid.MustParse(s)
	r.mu.Lock()
	for i, c := range r.contacts {
		if c.Equal(j) {
			r.contacts = append(r.contacts[:i:i], r.contacts[i+1:]...)
			break
		}
	}
	observers := append([]RosterObserver(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o.ItemRemoved(j)
	}
}

func (r *fakeRoster) Observers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// newTestClient returns a client on a mock clock with a recording transport.
// The known-unresponsive address is left at its default.
func newTestClient(t *testing.T) (*Client, *clock.Mock, *recordingTransport) {
	t.Helper()
	mock := clock.NewMock()
	transport := &recordingTransport{}
	c := NewClientWithClock(transport, nil, mock)
	t.Cleanup(func() { c.Close() })
	return c, mock, transport
}

// waitFor polls cond until it holds or a second has passed. Timer callbacks
// of clock.Mock run on their own goroutines.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// progressRecorder collects DiscoProgress values.
type progressRecorder struct {
	mu  sync.Mutex
	got []DiscoProgress
	// queried at callback time, before any destruction
	onCall func(p DiscoProgress)
}

func (r *progressRecorder) record(p DiscoProgress) {
	if r.onCall != nil {
		r.onCall(p)
	}
	r.mu.Lock()
	r.got = append(r.got, p)
	r.mu.Unlock()
}

func (r *progressRecorder) All() []DiscoProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DiscoProgress(nil), r.got...)
}

func (r *progressRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

// itemsResult answers a disco#items request with the given item addresses.
func itemsResult(req *IQ, items ...string) *IQ {
	q := NewQuery(NS_DISCO_ITEMS)
	for _, it := range items {
		q.Items = append(q.Items, discoitems.Item{JID: jid.MustParse(it)})
	}
	return req.Reply(q)
}

// infoResult answers a disco#info request. identity is "category/type" or "".
func infoResult(req *IQ, identity string, features ...string) *IQ {
	q := NewQuery(NS_DISCO_INFO)
	if identity != "" {
		var cat, typ string
		for i := 0; i < len(identity); i++ {
			if identity[i] == '/' {
				cat, typ = identity[:i], identity[i+1:]
				break
			}
		}
		q.Identities = append(q.Identities, info.Identity{Category: cat, Type: typ})
	}
	for _, f := range features {
		q.Features = append(q.Features, info.Feature{Var: f})
	}
	return req.Reply(q)
}

// registerForm answers a jabber:iq:register GET.
func registerForm(req *IQ, fill func(q *Query)) *IQ {
	q := NewQuery(NS_REGISTER)
	if fill != nil {
		fill(q)
	}
	return req.Reply(q)
}
