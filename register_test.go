package go_xmppgate

import (
	"errors"
	"sync"
	"testing"

	"mellium.im/xmpp/jid"
)

type unregisterResult struct {
	target jid.JID
	err    error
}

type unregisterRecorder struct {
	mu    sync.Mutex
	calls []unregisterResult
}

func (r *unregisterRecorder) record(target jid.JID, err error) {
	r.mu.Lock()
	r.calls = append(r.calls, unregisterResult{target, err})
	r.mu.Unlock()
}

func (r *unregisterRecorder) Calls() []unregisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]unregisterResult(nil), r.calls...)
}

// TestUnregisterTwoStage tests the query then remove exchange of Unregister
func TestUnregisterTwoStage(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "icq.example.com")
	rec := &unregisterRecorder{}

	if err := c.Unregister(gw, rec.record); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	get := transport.Last("icq.example.com")
	if get.Type != IQ_TYPE_GET || get.QueryNamespace() != NS_REGISTER {
		t.Fatalf("expected register get, got %s", get)
	}

	if !c.HandleIQ(registerForm(get, func(q *Query) {
		q.Key = strPtr("abc123")
		q.Username = strPtr("42424242")
		q.Password = strPtr("")
	})) {
		t.Fatal("first response not consumed")
	}
	if len(rec.Calls()) != 0 {
		t.Fatal("callback fired after the first stage")
	}

	set := transport.Last("icq.example.com")
	if set == get || set.Type != IQ_TYPE_SET {
		t.Fatalf("expected removal set, got %s", set)
	}
	q := set.Query
	if strValue(q.Key) != "abc123" || strValue(q.Username) != "42424242" || q.Remove == nil {
		t.Errorf("unexpected removal payload %s", set)
	}
	if q.Password != nil {
		t.Error("removal must not carry the password")
	}

	if !c.HandleIQ(set.Reply(nil)) {
		t.Fatal("second response not consumed")
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].err != nil || !calls[0].target.Equal(gw) {
		t.Fatalf("expected one successful callback, got %+v", calls)
	}

	if c.HandleIQ(set.Reply(nil)) {
		t.Error("duplicate acknowledgement should not be consumed")
	}
	if len(rec.Calls()) != 1 {
		t.Error("callback fired more than once")
	}
}

// TestUnregisterOmitsUnlistedUsername tests that a field the gateway did not list is not echoed back
func TestUnregisterOmitsUnlistedUsername(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "msn.example.com")

	if err := c.Unregister(gw, nil); err != nil {
		t.Fatal(err)
	}
	c.HandleIQ(registerForm(transport.Last("msn.example.com"), func(q *Query) {
		q.Key = strPtr("k")
	}))
	set := transport.Last("msn.example.com")
	if set.Type != IQ_TYPE_SET || set.Query.Username != nil || set.Query.Remove == nil {
		t.Errorf("unexpected removal %s", set)
	}
}

// TestUnregisterErrorShortCircuit tests that an error on the query stage ends Unregister
func TestUnregisterErrorShortCircuit(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "icq.example.com")
	rec := &unregisterRecorder{}

	if err := c.Unregister(gw, rec.record); err != nil {
		t.Fatal(err)
	}
	get := transport.Last("icq.example.com")
	c.HandleIQ(get.ReplyError(STANZA_ERROR_CODE_DECLINED, "Not registered"))

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d callbacks, want 1", len(calls))
	}
	if !errors.Is(calls[0].err, ErrDeclined) {
		t.Errorf("callback error = %v, want declined", calls[0].err)
	}
	for _, iq := range transport.Sent() {
		if iq.Type == IQ_TYPE_SET {
			t.Errorf("removal sent after a failed first stage: %s", iq)
		}
	}
	if c.CancelUnregister(gw) {
		t.Error("request still pending after the error")
	}
}

// TestUnregisterSecondStageError tests an error returned for the remove stage
func TestUnregisterSecondStageError(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "icq.example.com")
	rec := &unregisterRecorder{}

	if err := c.Unregister(gw, rec.record); err != nil {
		t.Fatal(err)
	}
	c.HandleIQ(registerForm(transport.Last("icq.example.com"), nil))
	c.HandleIQ(transport.Last("icq.example.com").ReplyError(500, "Internal"))

	calls := rec.Calls()
	if len(calls) != 1 || calls[0].err == nil {
		t.Fatalf("expected one failed callback, got %+v", calls)
	}
	var se *StanzaError
	if !errors.As(calls[0].err, &se) || se.Code != 500 || se.Kind() != ErrorKindUnknown {
		t.Errorf("unexpected error %#v", calls[0].err)
	}
}

// TestRegistrationCancellationSafety tests that cancelled registration requests never call back
func TestRegistrationCancellationSafety(t *testing.T) {
	tests := []struct {
		name   string
		start  func(c *Client, target jid.JID, called *bool) error
		cancel func(c *Client, target jid.JID) bool
	}{
		{
			name: "unregister",
			start: func(c *Client, target jid.JID, called *bool) error {
				return c.Unregister(target, func(jid.JID, error) { *called = true })
			},
			cancel: (*Client).CancelUnregister,
		},
		{
			name: "requirements",
			start: func(c *Client, target jid.JID, called *bool) error {
				return c.QueryRequirements(target, func(jid.JID, *Requirements, error) { *called = true })
			},
			cancel: (*Client).CancelRequirements,
		},
		{
			name: "register",
			start: func(c *Client, target jid.JID, called *bool) error {
				return c.Register(target, RegistrationFields{Key: "k"}, func(jid.JID, error) { *called = true })
			},
			cancel: (*Client).CancelRegister,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, transport := newTestClient(t)
			gw := mustJID(t, "icq.example.com")
			called := false

			if err := tt.start(c, gw, &called); err != nil {
				t.Fatal(err)
			}
			handlers := c.Diagnostics().Handlers
			if !tt.cancel(c, gw) {
				t.Fatal("cancel reported nothing pending")
			}
			if tt.cancel(c, gw) {
				t.Error("second cancel should report nothing pending")
			}
			if got := c.Diagnostics().Handlers; got != handlers-1 {
				t.Errorf("cancel left the handler registered: %d handlers, want %d", got, handlers-1)
			}

			req := transport.Last("icq.example.com")
			if c.HandleIQ(registerForm(req, nil)) {
				t.Error("response after cancel was consumed")
			}
			if c.HandleIQ(req.ReplyError(STANZA_ERROR_CODE_DECLINED, "")) {
				t.Error("error response after cancel was consumed")
			}
			if called {
				t.Error("callback invoked after cancel")
			}

			if err := tt.start(c, gw, &called); err != nil {
				t.Errorf("restart after cancel: %v", err)
			}
		})
	}
}

// TestQueryRequirementsParsesForm tests parsing a registration form into Requirements
func TestQueryRequirementsParsesForm(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "yahoo.example.com")

	var got *Requirements
	var gotErr error
	calls := 0
	if err := c.QueryRequirements(gw, func(_ jid.JID, req *Requirements, err error) {
		calls++
		got, gotErr = req, err
	}); err != nil {
		t.Fatal(err)
	}

	c.HandleIQ(registerForm(transport.Last("yahoo.example.com"), func(q *Query) {
		q.Instructions = strPtr("Enter your Yahoo! ID")
		q.Key = strPtr("key-1")
		q.Username = strPtr("")
		q.Password = strPtr("hunter2")
		q.Registered = &Marker{}
	}))

	if calls != 1 || gotErr != nil || got == nil {
		t.Fatalf("calls=%d err=%v req=%v", calls, gotErr, got)
	}
	want := Requirements{
		Instructions: "Enter your Yahoo! ID",
		Key:          "key-1",
		Username:     RequirementField{Required: true},
		Password:     RequirementField{Required: true, Value: "hunter2"},
		Registered:   true,
	}
	if *got != want {
		t.Errorf("requirements = %+v, want %+v", *got, want)
	}
}

// TestQueryRequirementsError tests a requirements query refused by the gateway
func TestQueryRequirementsError(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "aim.example.com")

	var gotErr error
	var gotReq *Requirements
	if err := c.QueryRequirements(gw, func(_ jid.JID, req *Requirements, err error) {
		gotReq, gotErr = req, err
	}); err != nil {
		t.Fatal(err)
	}
	c.HandleIQ(transport.Last("aim.example.com").ReplyError(STANZA_ERROR_CODE_UNSUPPORTED, "Bad Request"))

	if gotReq != nil || !errors.Is(gotErr, ErrUnsupported) {
		t.Errorf("req=%v err=%v", gotReq, gotErr)
	}
	if c.CancelRequirements(gw) {
		t.Error("request still pending after the error")
	}
}

// TestRegisterSendsSuppliedFields tests that Register sends only the supplied fields
func TestRegisterSendsSuppliedFields(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "icq.example.com")

	var done bool
	var gotErr error
	if err := c.Register(gw, RegistrationFields{Key: "k1", Username: "123", Password: "pw"}, func(_ jid.JID, err error) {
		done, gotErr = true, err
	}); err != nil {
		t.Fatal(err)
	}

	set := transport.Last("icq.example.com")
	q := set.Query
	if set.Type != IQ_TYPE_SET || q.Namespace() != NS_REGISTER {
		t.Fatalf("unexpected registration stanza %s", set)
	}
	if strValue(q.Key) != "k1" || strValue(q.Username) != "123" || strValue(q.Password) != "pw" {
		t.Errorf("unexpected fields in %s", set)
	}
	if q.Nick != nil || q.Email != nil {
		t.Errorf("empty fields must be omitted: %s", set)
	}

	c.HandleIQ(set.Reply(nil))
	if !done || gotErr != nil {
		t.Errorf("done=%v err=%v", done, gotErr)
	}
}

// TestRegisterAlwaysSendsKey tests that Register always sends the key element
func TestRegisterAlwaysSendsKey(t *testing.T) {
	q := RegistrationFields{}.query()
	if q.Key == nil || *q.Key != "" {
		t.Errorf("key element missing: %+v", q)
	}
	if q.Username != nil || q.Password != nil {
		t.Error("empty fields must be omitted")
	}
}

// TestRegistrationRequestPending tests refusing a second request of the same kind for a target
func TestRegistrationRequestPending(t *testing.T) {
	c, _, _ := newTestClient(t)
	gw := mustJID(t, "icq.example.com")

	if err := c.Register(gw, RegistrationFields{Key: "k"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Register(gw, RegistrationFields{Key: "k"}, nil); !errors.Is(err, ErrRequestPending) {
		t.Errorf("second Register: got %v, want ErrRequestPending", err)
	}
	// Different variants are independent.
	if err := c.QueryRequirements(gw, nil); err != nil {
		t.Errorf("QueryRequirements alongside Register: %v", err)
	}
	if err := c.Unregister(gw, nil); err != nil {
		t.Errorf("Unregister alongside Register: %v", err)
	}
}

// TestRegistrationVariantsCorrelateById tests correlation of concurrent registration requests by id
func TestRegistrationVariantsCorrelateById(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "icq.example.com")

	var registered, queried bool
	if err := c.QueryRequirements(gw, func(jid.JID, *Requirements, error) { queried = true }); err != nil {
		t.Fatal(err)
	}
	get := transport.Last("icq.example.com")
	if err := c.Register(gw, RegistrationFields{Key: "k"}, func(jid.JID, error) { registered = true }); err != nil {
		t.Fatal(err)
	}
	set := transport.Last("icq.example.com")

	c.HandleIQ(set.ReplyError(STANZA_ERROR_CODE_DECLINED, ""))
	if !registered || queried {
		t.Fatalf("register response reached the wrong request: registered=%v queried=%v", registered, queried)
	}
	c.HandleIQ(registerForm(get, nil))
	if !queried {
		t.Error("requirements response not delivered")
	}
}

// TestRegistrationDeclinesMalformed tests that malformed registration responses are declined
func TestRegistrationDeclinesMalformed(t *testing.T) {
	c, _, transport := newTestClient(t)
	gw := mustJID(t, "icq.example.com")
	called := false
	if err := c.QueryRequirements(gw, func(jid.JID, *Requirements, error) { called = true }); err != nil {
		t.Fatal(err)
	}
	get := transport.Last("icq.example.com")

	wrongFrom := registerForm(get, nil)
	wrongFrom.From = mustJID(t, "msn.example.com")

	noFrom := registerForm(get, nil)
	noFrom.From = jid.JID{}

	wrongID := registerForm(get, nil)
	wrongID.ID = "other"

	foreignNS := get.Reply(NewQuery(NS_DISCO_INFO))

	bareError := get.Reply(nil)
	bareError.Type = IQ_TYPE_ERROR

	noQuery := get.Reply(nil)

	for name, iq := range map[string]*IQ{
		"wrong from":        wrongFrom,
		"missing from":      noFrom,
		"wrong id":          wrongID,
		"foreign namespace": foreignNS,
		"error w/o element": bareError,
		"result w/o query":  noQuery,
	} {
		if c.HandleIQ(iq) {
			t.Errorf("%s: consumed", name)
		}
	}
	if called {
		t.Error("callback invoked for a malformed response")
	}
	if d := c.Diagnostics(); len(d.Pending) != 1 || d.Pending[0].Kind != KIND_REQUIREMENTS {
		t.Errorf("request should still be pending: %+v", d.Pending)
	}
}

// TestRegistrationSendFailure tests registration requests whose send fails
func TestRegistrationSendFailure(t *testing.T) {
	c, _, transport := newTestClient(t)
	transport.setErr(errors.New("broken pipe"))
	gw := mustJID(t, "icq.example.com")

	if err := c.Unregister(gw, nil); err == nil {
		t.Error("Unregister: expected error")
	}
	if err := c.QueryRequirements(gw, nil); err == nil {
		t.Error("QueryRequirements: expected error")
	}
	if err := c.Register(gw, RegistrationFields{}, nil); err == nil {
		t.Error("Register: expected error")
	}
	d := c.Diagnostics()
	if len(d.Pending) != 0 || d.Handlers != 0 {
		t.Errorf("failed requests left state behind: %+v", d)
	}
}
