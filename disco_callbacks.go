package go_xmppgate

// DiscoProgress is one step of a discovery exchange.
//
// A full crawl delivers one DiscoProgress per listed item followed by
// completion: the value with LastItem set is always the final one. A
// single-item info request delivers exactly one value, with LastItem set.
//
//   - Item is nil when the item listing itself failed, timed out, or was empty.
//   - TimedOut is set when no response arrived within the timeout window.
//   - Err carries the remote *StanzaError when the entity answered with an error.
type DiscoProgress struct {
	Session  *DiscoSession
	Item     *DiscoItem
	LastItem bool
	TimedOut bool
	Err      error
}

// DiscoItemFunc receives discovery progress. Only the caller that created a
// session is notified; callers merged into an existing session are not.
type DiscoItemFunc func(p DiscoProgress)
