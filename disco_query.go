package go_xmppgate

import "mellium.im/xmpp/jid"

// The query accessors below read a session that is in progress or complete.
// Once the session is destroyed they report nothing.

// Target returns the address the session discovers.
func (s *DiscoSession) Target() jid.JID {
	return s.target
}

// Mode returns the session's discovery mode.
func (s *DiscoSession) Mode() DiscoMode {
	return s.mode
}

// Destroyed reports whether Destroy has run.
func (s *DiscoSession) Destroyed() bool {
	s.client.lock.Lock()
	defer s.client.lock.Unlock()
	return s.destroying
}

// ItemsRemaining returns the number of items whose info is still outstanding.
func (s *DiscoSession) ItemsRemaining() int {
	s.client.lock.Lock()
	defer s.client.lock.Unlock()
	return s.remaining
}

// ItemsTotal returns the number of items the session knows about, including
// the known-unresponsive item if it was listed.
func (s *DiscoSession) ItemsTotal() int {
	s.client.lock.Lock()
	defer s.client.lock.Unlock()
	return s.total
}

// LastError returns the most recent stanza error the session received.
func (s *DiscoSession) LastError() error {
	s.client.lock.Lock()
	defer s.client.lock.Unlock()
	if s.lastErr == nil {
		return nil
	}
	return s.lastErr
}

// Items returns the session's items in listing order.
func (s *DiscoSession) Items() []*DiscoItem {
	s.client.lock.Lock()
	defer s.client.lock.Unlock()
	return append([]*DiscoItem(nil), s.items...)
}

// Item returns the item with address j, or nil.
func (s *DiscoSession) Item(j jid.JID) *DiscoItem {
	s.client.lock.Lock()
	defer s.client.lock.Unlock()
	for _, it := range s.items {
		if it.jid.Equal(j) {
			return it
		}
	}
	return nil
}

// ItemsByCategory returns the items that have an identity of the given
// category and support in-band registration.
func (s *DiscoSession) ItemsByCategory(category string) []*DiscoItem {
	return s.filter(func(info *DiscoInfo) bool {
		return info.HasIdentity(category, "")
	})
}

// ItemsByCategoryAndType returns the items that have an identity of the given
// category and type and support in-band registration.
func (s *DiscoSession) ItemsByCategoryAndType(category, typ string) []*DiscoItem {
	return s.filter(func(info *DiscoInfo) bool {
		return info.HasIdentity(category, typ)
	})
}

// ItemsWithFeature returns the items advertising feature that also support
// in-band registration.
func (s *DiscoSession) ItemsWithFeature(feature string) []*DiscoItem {
	return s.filter(func(info *DiscoInfo) bool {
		return info.HasFeature(feature)
	})
}

func (s *DiscoSession) filter(match func(info *DiscoInfo) bool) []*DiscoItem {
	s.client.lock.Lock()
	defer s.client.lock.Unlock()

	var out []*DiscoItem
	for _, it := range s.items {
		if it.info == nil || !it.info.HasFeature(DISCO_FEATURE_REGISTER) {
			continue
		}
		if match(it.info) {
			out = append(out, it)
		}
	}
	return out
}
