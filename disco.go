package go_xmppgate

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"mellium.im/xmpp/disco/info"
	"mellium.im/xmpp/jid"
)

// DiscoMode selects how a discovery session behaves.
type DiscoMode int

const (
	// DiscoModeFullCrawl lists the target's items, then requests info for
	// each of them. The session destroys itself once complete.
	DiscoModeFullCrawl DiscoMode = iota
	// DiscoModeSingleInfo requests info for the target alone. The session
	// stays in the table after completion until the caller destroys it.
	DiscoModeSingleInfo
)

// String returns a human-readable name for the mode.
func (m DiscoMode) String() string {
	switch m {
	case DiscoModeFullCrawl:
		return "full-crawl"
	case DiscoModeSingleInfo:
		return "single-item-info"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(m))
	}
}

// Identity is one identity advertised in a disco#info result.
type Identity = info.Identity

// DiscoInfo is the capability description of one item.
type DiscoInfo struct {
	Identities []Identity
	Features   []string
}

// HasFeature reports whether the info lists the given feature.
func (i *DiscoInfo) HasFeature(feature string) bool {
	if i == nil {
		return false
	}
	for _, f := range i.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// HasIdentity reports whether the info has an identity of the given category
// and, when typ is not empty, of the given type.
func (i *DiscoInfo) HasIdentity(category, typ string) bool {
	return i.FindIdentity(category, typ) != nil
}

// FindIdentity returns the first identity matching category and, when typ is
// not empty, typ.
func (i *DiscoInfo) FindIdentity(category, typ string) *Identity {
	if i == nil {
		return nil
	}
	for n := range i.Identities {
		id := &i.Identities[n]
		if id.Category == category && (typ == "" || id.Type == typ) {
			return id
		}
	}
	return nil
}

func parseDiscoInfo(q *Query) *DiscoInfo {
	di := &DiscoInfo{}
	if q == nil {
		return di
	}
	di.Identities = append(di.Identities, q.Identities...)
	for _, f := range q.Features {
		di.Features = append(di.Features, f.Var)
	}
	return di
}

// DiscoItem is one entry of a target's item listing, or the sole item of a
// single-item info session.
type DiscoItem struct {
	session *DiscoSession
	jid     jid.JID
	node    string
	name    string
	id      string // id of the outstanding info request
	timer   *clock.Timer
	info    *DiscoInfo
	done    bool // answered, errored or timed out
	err     *StanzaError
}

// JID returns the item address.
func (it *DiscoItem) JID() jid.JID {
	return it.jid
}

// Node returns the optional node qualifier.
func (it *DiscoItem) Node() string {
	return it.node
}

// Name returns the optional display name from the item listing.
func (it *DiscoItem) Name() string {
	return it.name
}

// Info returns the item's capability description, or nil when it is not
// known (still pending, timed out, errored or never requested).
func (it *DiscoItem) Info() *DiscoInfo {
	c := it.session.client
	c.lock.Lock()
	defer c.lock.Unlock()
	return it.info
}

// Err returns the stanza error the item's info request failed with, if any.
func (it *DiscoItem) Err() error {
	c := it.session.client
	c.lock.Lock()
	defer c.lock.Unlock()
	if it.err == nil {
		return nil
	}
	return it.err
}

// DiscoSession is one outstanding or completed discovery exchange against one
// target address. At most one session per target exists in the client's
// session table.
type DiscoSession struct {
	client *Client
	target jid.JID
	mode   DiscoMode
	fn     DiscoItemFunc

	items     []*DiscoItem
	remaining int
	total     int
	lastErr   *StanzaError

	awaitingItems bool
	listID        string
	timer         *clock.Timer
	handlerID     HandlerID
	started       time.Time
	destroying    bool
}

// discoEvent is a callback invocation computed under the client lock and
// delivered after it is released.
type discoEvent struct {
	progress DiscoProgress
	destroy  bool
}

// RequestItems starts a full crawl of target: its item listing followed by
// an info request for every listed item. If a session for target already
// exists it is returned unchanged and fn is not attached to it.
func (c *Client) RequestItems(target jid.JID, fn DiscoItemFunc) (*DiscoSession, error) {
	s, _, err := c.requestItems(target, fn)
	return s, err
}

func (c *Client) requestItems(target jid.JID, fn DiscoItemFunc) (*DiscoSession, bool, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, false, err
	}
	if target.String() == "" {
		return nil, false, fmt.Errorf("target cannot be empty: %w", ErrInvalidArgument)
	}

	key := jidKey(target)
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil, false, ErrClientClosed
	}
	if s, ok := c.discoSessions[key]; ok {
		c.lock.Unlock()
		c.logger.log(DEBUG, "Reusing %s discovery session for %s", s.mode, key)
		return s, false, nil
	}

	s := c.newDiscoSessionLocked(target, DiscoModeFullCrawl, fn)
	s.awaitingItems = true
	s.timer = c.clock.AfterFunc(c.discoItemsTimeoutLocked(), s.onItemsTimeout)
	iq := NewIQ(IQ_TYPE_GET, target, NewQuery(NS_DISCO_ITEMS))
	s.listID = iq.ID
	c.lock.Unlock()

	c.logger.log(DEBUG, "Requesting items from %s", key)
	if err := c.sendIQ(iq); err != nil {
		s.Destroy()
		return nil, false, NewRequestError(key, "send disco#items", err)
	}
	return s, true, nil
}

// RequestInfo requests identities and features of target alone. The returned
// session has target as its only item and is not destroyed on completion;
// the caller must Destroy it. If a session for target already exists it is
// returned unchanged and fn is not attached to it.
func (c *Client) RequestInfo(target jid.JID, fn DiscoItemFunc) (*DiscoSession, error) {
	s, _, err := c.requestInfo(target, fn)
	return s, err
}

func (c *Client) requestInfo(target jid.JID, fn DiscoItemFunc) (*DiscoSession, bool, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, false, err
	}
	if target.String() == "" {
		return nil, false, fmt.Errorf("target cannot be empty: %w", ErrInvalidArgument)
	}

	key := jidKey(target)
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil, false, ErrClientClosed
	}
	if s, ok := c.discoSessions[key]; ok {
		c.lock.Unlock()
		c.logger.log(DEBUG, "Reusing %s discovery session for %s", s.mode, key)
		return s, false, nil
	}

	s := c.newDiscoSessionLocked(target, DiscoModeSingleInfo, fn)
	item := &DiscoItem{session: s, jid: target}
	s.items = []*DiscoItem{item}
	s.total = 1
	s.remaining = 1
	item.timer = c.clock.AfterFunc(c.discoInfoTimeoutLocked(), func() { s.onItemTimeout(item) })
	iq := NewIQ(IQ_TYPE_GET, target, NewQuery(NS_DISCO_INFO))
	item.id = iq.ID
	c.lock.Unlock()

	c.logger.log(DEBUG, "Requesting info from %s", key)
	if err := c.sendIQ(iq); err != nil {
		s.Destroy()
		return nil, false, NewRequestError(key, "send disco#info", err)
	}
	return s, true, nil
}

func (c *Client) newDiscoSessionLocked(target jid.JID, mode DiscoMode, fn DiscoItemFunc) *DiscoSession {
	s := &DiscoSession{
		client:  c,
		target:  target,
		mode:    mode,
		fn:      fn,
		started: c.clock.Now(),
	}
	s.handlerID = c.addHandlerLocked(s.handleIQ)
	c.discoSessions[jidKey(target)] = s
	c.updateGaugesLocked()
	return s
}

// DiscoSession returns the session registered for target, or nil.
func (c *Client) DiscoSession(target jid.JID) *DiscoSession {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.discoSessions[jidKey(target)]
}

// Destroy removes the session from the table, deregisters its stanza
// handler, stops every timer and drops its items. It is idempotent.
func (s *DiscoSession) Destroy() {
	c := s.client
	c.lock.Lock()
	if s.destroying {
		c.lock.Unlock()
		return
	}
	s.destroying = true

	c.removeHandlerLocked(s.handlerID)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for _, item := range s.items {
		if item.timer != nil {
			item.timer.Stop()
			item.timer = nil
		}
	}
	s.items = nil
	s.lastErr = nil

	key := jidKey(s.target)
	if c.discoSessions[key] == s {
		delete(c.discoSessions, key)
	}
	c.updateGaugesLocked()
	c.lock.Unlock()

	c.logger.log(DEBUG, "Destroyed %s discovery session for %s", s.mode, key)
}

// handleIQ is the session's stanza handler. Responses are correlated by their
// from address, then by id: a stanza whose address belongs to another
// session in the table, or that matches nothing pending here, is declined.
func (s *DiscoSession) handleIQ(iq *IQ) bool {
	if !iq.IsResponse() {
		return false
	}
	ns := iq.QueryNamespace()
	if ns != "" && ns != NS_DISCO_ITEMS && ns != NS_DISCO_INFO {
		return false
	}
	if (iq.Type == IQ_TYPE_RESULT && ns == "") || (iq.Type == IQ_TYPE_ERROR && iq.Error == nil) {
		return false
	}
	from, err := iq.FromJID()
	if err != nil {
		return false
	}

	c := s.client
	c.lock.Lock()
	if s.destroying {
		c.lock.Unlock()
		return false
	}
	if owner, ok := c.discoSessions[jidKey(from)]; ok && owner != s {
		c.lock.Unlock()
		return false
	}

	var ev *discoEvent
	var sends []*IQ
	handled := false
	if s.awaitingItems && from.Equal(s.target) && sameID(iq.ID, s.listID) && ns != NS_DISCO_INFO {
		ev, sends = s.onItemsLocked(iq)
		handled = true
	} else if ns == NS_DISCO_INFO || ns == "" {
		ev, handled = s.onInfoLocked(from, iq)
	}
	c.lock.Unlock()

	if !handled {
		return false
	}
	for _, out := range sends {
		if err := c.sendIQ(out); err != nil {
			// The item's own timeout completes it.
			c.logger.log(WARNING, "Info request to %s not sent: %v", out.To, err)
		}
	}
	s.fire(ev)
	return true
}

// onItemsLocked handles the item listing response.
func (s *DiscoSession) onItemsLocked(iq *IQ) (*discoEvent, []*IQ) {
	c := s.client
	s.awaitingItems = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if iq.Type == IQ_TYPE_ERROR {
		s.lastErr = iq.Error
		s.remaining = 0
		c.logger.log(WARNING, "Item listing from %s failed: %v", s.target, s.lastErr)
		c.trackError("protocol")
		return &discoEvent{
			progress: DiscoProgress{Session: s, LastItem: true, Err: s.lastErr},
			destroy:  s.mode == DiscoModeFullCrawl,
		}, nil
	}

	skip := c.unresponsiveLocked()
	infoTimeout := c.discoInfoTimeoutLocked()
	var sends []*IQ
	for _, el := range iq.Query.Items {
		j := el.JID
		if j.Equal(jid.JID{}) {
			c.logger.log(WARNING, "Ignoring item without address from %s", s.target)
			continue
		}
		item := &DiscoItem{session: s, jid: j, node: el.Node, name: el.Name}
		s.items = append(s.items, item)
		s.total++

		if skip != "" && jidKey(j) == skip {
			item.done = true
			c.logger.log(DEBUG, "Not requesting info from known-unresponsive %s", skip)
			continue
		}
		s.remaining++

		q := NewQuery(NS_DISCO_INFO)
		q.Node = el.Node
		out := NewIQ(IQ_TYPE_GET, j, q)
		item.id = out.ID
		sends = append(sends, out)
		it := item
		item.timer = c.clock.AfterFunc(infoTimeout, func() { s.onItemTimeout(it) })
	}
	c.logger.log(DEBUG, "Received %d items from %s, %d info requests pending", s.total, s.target, s.remaining)

	if s.remaining == 0 {
		return &discoEvent{
			progress: DiscoProgress{Session: s, LastItem: true},
			destroy:  s.mode == DiscoModeFullCrawl,
		}, sends
	}
	return nil, sends
}

// onInfoLocked handles an info response for one of the session's items.
// It returns handled=false when no pending item has the response's address.
func (s *DiscoSession) onInfoLocked(from jid.JID, iq *IQ) (*discoEvent, bool) {
	var item *DiscoItem
	for _, it := range s.items {
		if !it.done && it.jid.Equal(from) && sameID(iq.ID, it.id) {
			item = it
			break
		}
	}
	if item == nil {
		return nil, false
	}

	if item.timer != nil {
		item.timer.Stop()
		item.timer = nil
	}
	item.done = true

	var err error
	if iq.Type == IQ_TYPE_ERROR {
		item.err = iq.Error
		s.lastErr = iq.Error
		err = iq.Error
		s.client.trackError("protocol")
	} else {
		item.info = parseDiscoInfo(iq.Query)
	}
	return s.completeItemLocked(item, false, err), true
}

// sameID reports whether a response id can answer a request id. Entities
// that drop the id are matched by address alone.
func sameID(got, want string) bool {
	return got == "" || want == "" || got == want
}

func (s *DiscoSession) completeItemLocked(item *DiscoItem, timedOut bool, err error) *discoEvent {
	s.remaining--
	last := s.remaining == 0
	return &discoEvent{
		progress: DiscoProgress{Session: s, Item: item, LastItem: last, TimedOut: timedOut, Err: err},
		destroy:  last && s.mode == DiscoModeFullCrawl,
	}
}

// onItemsTimeout fires when the item listing did not arrive in time.
func (s *DiscoSession) onItemsTimeout() {
	c := s.client
	c.lock.Lock()
	if s.destroying || !s.awaitingItems {
		c.lock.Unlock()
		return
	}
	s.awaitingItems = false
	s.timer = nil
	s.remaining = 0
	c.lock.Unlock()

	c.logger.log(WARNING, "Item listing from %s timed out", s.target)
	c.trackError("timeout")
	s.fire(&discoEvent{
		progress: DiscoProgress{Session: s, LastItem: true, TimedOut: true},
		destroy:  true,
	})
}

// onItemTimeout fires when an item's info did not arrive in time.
func (s *DiscoSession) onItemTimeout(item *DiscoItem) {
	c := s.client
	c.lock.Lock()
	if s.destroying || item.done {
		c.lock.Unlock()
		return
	}
	item.done = true
	item.timer = nil
	ev := s.completeItemLocked(item, true, nil)
	c.lock.Unlock()

	c.logger.log(DEBUG, "Info from %s timed out", item.jid)
	c.trackError("timeout")
	s.fire(ev)
}

// fire invokes the session callback outside the client lock, then destroys
// the session if the event completed a full crawl.
func (s *DiscoSession) fire(ev *discoEvent) {
	if ev == nil {
		return
	}
	if ev.progress.LastItem {
		kind := KIND_DISCO_ITEMS
		if s.mode == DiscoModeSingleInfo {
			kind = KIND_DISCO_INFO
		}
		s.client.trackLatency(kind, s.started)
	}
	if s.fn != nil {
		s.fn(ev.progress)
	}
	if ev.destroy {
		s.Destroy()
	}
}
