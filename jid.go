package go_xmppgate

import (
	"strings"

	"mellium.im/xmpp/jid"
)

// ParseJID parses an address string, wrapping failures in ErrInvalidArgument.
func ParseJID(s string) (jid.JID, error) {
	if s == "" {
		return jid.JID{}, ErrInvalidArgument
	}
	j, err := jid.Parse(s)
	if err != nil {
		return jid.JID{}, NewRequestError(s, "parse address", ErrInvalidArgument)
	}
	return j, nil
}

// IsServiceJID reports whether j addresses a service rather than a user: a
// multi-label domain with no localpart, such as "icq.example.com".
func IsServiceJID(j jid.JID) bool {
	return j.Localpart() == "" && strings.Contains(j.Domainpart(), ".")
}

// SameHost reports whether a and b share a domainpart.
func SameHost(a, b jid.JID) bool {
	return a.Domainpart() != "" && a.Domainpart() == b.Domainpart()
}

// BareEqual compares two addresses ignoring their resourceparts.
func BareEqual(a, b jid.JID) bool {
	return a.Bare().Equal(b.Bare())
}

// jidKey is the table key for an address.
func jidKey(j jid.JID) string {
	return j.String()
}
