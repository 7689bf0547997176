package go_xmppgate

import (
	"strings"
	"sync"
	"sync/atomic"

	"mellium.im/xmpp/jid"
)

// GatewayType is the legacy network a transport gateway bridges to.
type GatewayType int

const (
	GatewayUnknown GatewayType = iota
	GatewayICQ
	GatewayMSN
	GatewayYahoo
	GatewayAIM
)

var gatewayTypeNames = []struct {
	t       GatewayType
	keyword string
	display string
}{
	{GatewayICQ, "icq", "ICQ"},
	{GatewayMSN, "msn", "MSN"},
	{GatewayYahoo, "yahoo", "Yahoo!"},
	{GatewayAIM, "aim", "AIM"},
}

// String returns the display name of the gateway type.
func (t GatewayType) String() string {
	for _, n := range gatewayTypeNames {
		if n.t == t {
			return n.display
		}
	}
	return "Unknown"
}

// Keyword returns the disco identity type used for the gateway, e.g. "icq".
func (t GatewayType) Keyword() string {
	for _, n := range gatewayTypeNames {
		if n.t == t {
			return n.keyword
		}
	}
	return ""
}

// GatewayTypeFromString maps a disco identity type such as "icq" or "yahoo"
// to a GatewayType.
func GatewayTypeFromString(s string) GatewayType {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range gatewayTypeNames {
		if n.keyword == s {
			return n.t
		}
	}
	return GatewayUnknown
}

// InferGatewayType guesses the gateway type from the address by substring
// match, e.g. "icq.example.com" is an ICQ gateway.
func InferGatewayType(j jid.JID) GatewayType {
	s := strings.ToLower(j.String())
	for _, n := range gatewayTypeNames {
		if strings.Contains(s, n.keyword) {
			return n.t
		}
	}
	return GatewayUnknown
}

// TransportAccount is the account a user holds with one transport gateway.
// Its type comes from the address and is confirmed by disco; its credentials
// come from the gateway's registration form.
type TransportAccount struct {
	refs atomic.Int32

	jid jid.JID

	mu                  sync.RWMutex
	gwType              GatewayType
	name                string
	username            *string
	password            *string
	accountDataReceived bool
	typeDataReceived    bool
}

func newTransportAccount(j jid.JID) *TransportAccount {
	t := InferGatewayType(j)
	a := &TransportAccount{jid: j, gwType: t, name: t.String()}
	if t == GatewayUnknown {
		a.name = j.String()
	}
	a.refs.Store(1)
	return a
}

// Ref takes a reference to the account and returns it.
func (a *TransportAccount) Ref() *TransportAccount {
	a.refs.Add(1)
	return a
}

// Unref releases a reference. It returns true when this was the last one.
func (a *TransportAccount) Unref() bool {
	return a.refs.Add(-1) == 0
}

// Refs returns the current reference count.
func (a *TransportAccount) Refs() int {
	return int(a.refs.Load())
}

// JID returns the gateway address.
func (a *TransportAccount) JID() jid.JID {
	return a.jid
}

// Type returns the gateway type.
func (a *TransportAccount) Type() GatewayType {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gwType
}

// Name returns the account display name.
func (a *TransportAccount) Name() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name
}

// Username returns the legacy network username, if the gateway sent one.
func (a *TransportAccount) Username() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.username == nil {
		return "", false
	}
	return *a.username, true
}

// Password returns the legacy network password, if the gateway sent one.
func (a *TransportAccount) Password() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.password == nil {
		return "", false
	}
	return *a.password, true
}

// AccountDataReceived reports whether the registration form has been received.
func (a *TransportAccount) AccountDataReceived() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.accountDataReceived
}

// TypeDataReceived reports whether disco info has confirmed the type.
func (a *TransportAccount) TypeDataReceived() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.typeDataReceived
}

// applyInfo overrides the inferred type with a gateway identity from disco.
func (a *TransportAccount) applyInfo(info *DiscoInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.typeDataReceived = true
	id := info.FindIdentity(DISCO_CATEGORY_GATEWAY, "")
	if id == nil {
		return
	}
	if t := GatewayTypeFromString(id.Type); t != GatewayUnknown {
		a.gwType = t
		a.name = t.String()
	}
	if id.Name != "" {
		a.name = id.Name
	}
}

// applyRequirements stores whatever credentials the gateway prefilled.
// Fields the gateway left empty stay unset.
func (a *TransportAccount) applyRequirements(req *Requirements) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accountDataReceived = true
	if req.Username.Value != "" {
		a.username = strPtr(req.Username.Value)
	}
	if req.Password.Value != "" {
		a.password = strPtr(req.Password.Value)
	}
}
