package go_xmppgate

// ClientCallBacks defines callback functions for client events.
type ClientCallBacks struct {
	Opaque interface{}

	// OnLog receives client-scoped log lines instead of the package logger.
	OnLog func(c *Client, level int, message string)

	// OnSendError is called when the transport rejects an outbound stanza.
	OnSendError func(c *Client, iq *IQ, err error)
}
