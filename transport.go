package go_xmppgate

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Transport sends stanzas on the shared, already established connection.
// Connection setup and authentication are the transport's business.
type Transport interface {
	SendIQ(iq *IQ) error
}

// TransportFunc adapts an ordinary function to the Transport interface.
type TransportFunc func(iq *IQ) error

// SendIQ calls f(iq).
func (f TransportFunc) SendIQ(iq *IQ) error {
	return f(iq)
}

// WriterTransport encodes outbound IQs onto an io.Writer, typically the
// write half of an XMPP stream.
type WriterTransport struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterTransport creates a transport writing to w.
func NewWriterTransport(w io.Writer) *WriterTransport {
	return &WriterTransport{w: w}
}

// SendIQ encodes iq and writes it in a single call.
func (t *WriterTransport) SendIQ(iq *IQ) error {
	buf := globalBufferPool.get()
	defer globalBufferPool.put(buf)
	if err := xml.NewEncoder(buf).Encode(iq); err != nil {
		return fmt.Errorf("encode iq %s: %w", iq.ID, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write iq %s: %w", iq.ID, err)
	}
	return nil
}

// ProcessStream reads stanzas from r and delivers every IQ to HandleIQ until
// r is exhausted or ctx is cancelled. An enclosing <stream:stream> element is
// tolerated; top-level elements other than iq are skipped.
func (c *Client) ProcessStream(ctx context.Context, r io.Reader) error {
	if err := c.ensureInitialized(); err != nil {
		return err
	}

	dec := xml.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stream processing cancelled: %w", err)
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			c.trackError("protocol")
			return fmt.Errorf("%w: %v", ErrMalformedStanza, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "stream":
			continue
		case "iq":
		default:
			if err := dec.Skip(); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedStanza, err)
			}
			continue
		}

		iq := new(IQ)
		if err := dec.DecodeElement(iq, &start); err != nil {
			c.trackError("protocol")
			return fmt.Errorf("%w: %v", ErrMalformedStanza, err)
		}
		c.HandleIQ(iq)
	}
}
