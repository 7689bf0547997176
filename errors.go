package go_xmppgate

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"mellium.im/xmpp/stanza"
)

// Standard xmppgate Error Types
//
// These errors follow Go 1.13+ error wrapping conventions and can be
// checked using errors.Is() and errors.As().
//
// Protocol errors reported by a remote entity are delivered to callbacks as
// *StanzaError. Discovery timeouts are reported through the TimedOut flag of
// DiscoProgress and never as an error value.

// Sentinel errors for common failures
var (
	// ErrClientClosed indicates an operation was attempted on a closed client.
	ErrClientClosed = errors.New("xmppgate: client is closed")

	// ErrClientNotInitialized indicates the Client was not created with NewClient().
	ErrClientNotInitialized = errors.New("xmppgate: client not initialized (use NewClient)")

	// ErrInvalidArgument indicates a nil or empty argument was passed to a public API method.
	ErrInvalidArgument = errors.New("xmppgate: invalid argument (nil or empty value)")

	// ErrNotConnected indicates no Transport is attached to the client.
	ErrNotConnected = errors.New("xmppgate: no transport attached")

	// ErrRequestPending indicates a request of the same kind is already
	// outstanding for the target address.
	ErrRequestPending = errors.New("xmppgate: request already pending for target")

	// ErrSessionDestroyed indicates an operation on a discovery session that
	// has already been destroyed.
	ErrSessionDestroyed = errors.New("xmppgate: discovery session destroyed")

	// ErrTimeout is returned by the synchronous helpers when their context
	// expires before the exchange completes.
	ErrTimeout = errors.New("xmppgate: operation timed out")

	// ErrCircuitOpen indicates a send was refused because the transport
	// circuit breaker is open.
	ErrCircuitOpen = errors.New("xmppgate: circuit breaker is open")

	// ErrMalformedStanza indicates an inbound stanza could not be decoded.
	ErrMalformedStanza = errors.New("xmppgate: malformed stanza")

	// ErrDeclined matches stanza errors with code 403.
	ErrDeclined = errors.New("xmppgate: request declined by remote entity")

	// ErrUnsupported matches stanza errors with code 400.
	ErrUnsupported = errors.New("xmppgate: request unsupported by remote entity")
)

// ErrorKind classifies the numeric code of a stanza error.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindUnsupported
	ErrorKindDeclined
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUnsupported:
		return "unsupported"
	case ErrorKindDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// ErrorKindFromCode maps a legacy stanza error code to its ErrorKind.
func ErrorKindFromCode(code int) ErrorKind {
	switch code {
	case STANZA_ERROR_CODE_UNSUPPORTED:
		return ErrorKindUnsupported
	case STANZA_ERROR_CODE_DECLINED:
		return ErrorKindDeclined
	default:
		return ErrorKindUnknown
	}
}

// StanzaError is the error element of an IQ of type "error". Gateways
// answer with the legacy numeric code attribute and character data; servers
// answer with a defined condition element and an optional <text/>.
// Code and Reason are surfaced verbatim to callers; nothing retries them.
type StanzaError struct {
	Code     int            `xml:"code,attr,omitempty"`
	Type     string         `xml:"type,attr,omitempty"`
	Chardata string         `xml:",chardata"`
	Text     string         `xml:"text,omitempty"`
	Children []ErrorElement `xml:",any"`
}

// ErrorElement is a child of an error element other than <text/>: a
// defined condition or an application-specific condition.
type ErrorElement struct {
	XMLName xml.Name
}

// Condition returns the defined condition of the error, or "" when the
// error carries only a legacy code.
func (e *StanzaError) Condition() stanza.Condition {
	if e == nil {
		return ""
	}
	for _, el := range e.Children {
		if el.XMLName.Space == stanza.NSError {
			return stanza.Condition(el.XMLName.Local)
		}
	}
	return ""
}

// Reason returns the free-text reason of the error, preferring the legacy
// character data over a <text/> child.
func (e *StanzaError) Reason() string {
	if e == nil {
		return ""
	}
	if r := strings.TrimSpace(e.Chardata); r != "" {
		return r
	}
	return strings.TrimSpace(e.Text)
}

// Kind classifies the error by its numeric code, falling back to the defined
// condition when no code was sent.
func (e *StanzaError) Kind() ErrorKind {
	if e.Code != 0 {
		return ErrorKindFromCode(e.Code)
	}
	switch e.Condition() {
	case stanza.Forbidden, stanza.NotAllowed, stanza.NotAuthorized:
		return ErrorKindDeclined
	case stanza.BadRequest, stanza.FeatureNotImplemented:
		return ErrorKindUnsupported
	}
	return ErrorKindUnknown
}

func (e *StanzaError) Error() string {
	if reason := e.Reason(); reason != "" {
		return fmt.Sprintf("xmppgate: stanza error %d (%s): %s", e.Code, e.Kind(), reason)
	}
	return fmt.Sprintf("xmppgate: stanza error %d (%s)", e.Code, e.Kind())
}

// Is lets errors.Is match a StanzaError against ErrDeclined and ErrUnsupported.
func (e *StanzaError) Is(target error) bool {
	switch target {
	case ErrDeclined:
		return e.Kind() == ErrorKindDeclined
	case ErrUnsupported:
		return e.Kind() == ErrorKindUnsupported
	}
	return false
}

// NewStanzaError creates a StanzaError with the given code and reason.
func NewStanzaError(code int, reason string) *StanzaError {
	return &StanzaError{Code: code, Chardata: reason}
}

// RequestError wraps a failure of a request against one target address.
type RequestError struct {
	Target    string // Target address of the request
	Operation string // What operation failed (e.g., "send disco#items")
	Err       error  // Underlying error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("xmppgate: %s to %s failed: %v", e.Operation, e.Target, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a RequestError with the given parameters.
//
// Example:
//
//	if err := c.sendIQ(iq); err != nil {
//	    return NewRequestError(target.String(), "send disco#items", err)
//	}
func NewRequestError(target, operation string, err error) error {
	return &RequestError{
		Target:    target,
		Operation: operation,
		Err:       err,
	}
}

// IsTemporary returns true if the error is temporary and the operation can be retried.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}

	type temporary interface {
		Temporary() bool
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}

	return false
}

// IsProtocolError reports whether err carries a remote stanza error.
func IsProtocolError(err error) bool {
	var se *StanzaError
	return errors.As(err, &se)
}
