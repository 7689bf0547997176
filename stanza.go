package go_xmppgate

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"mellium.im/xmpp/disco/info"
	"mellium.im/xmpp/disco/items"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// IQType is the type attribute of an IQ stanza.
type IQType = stanza.IQType

// IQ is an info/query stanza. The envelope is mellium's stanza.IQ; only the
// single child payload this library needs is modelled on top of it: a query
// element or an error element.
//
// An inbound stanza whose from or to attribute is not a valid address fails
// to decode and is reported as ErrMalformedStanza.
type IQ struct {
	stanza.IQ
	Query *Query       `xml:"query,omitempty"`
	Error *StanzaError `xml:"error,omitempty"`
}

// Query is the query child shared by disco#items, disco#info and
// jabber:iq:register. Its namespace is carried in XMLName.Space.
//
// Registration fields are pointers so that an empty element (the server
// asks for the field) is distinguishable from an absent one.
type Query struct {
	XMLName      xml.Name
	Node         string          `xml:"node,attr,omitempty"`
	Items        []items.Item    `xml:"item"`
	Identities   []info.Identity `xml:"identity"`
	Features     []info.Feature  `xml:"feature"`
	Instructions *string         `xml:"instructions"`
	Key          *string         `xml:"key"`
	Username     *string         `xml:"username"`
	Password     *string         `xml:"password"`
	Nick         *string         `xml:"nick"`
	Email        *string         `xml:"email"`
	Registered   *Marker         `xml:"registered"`
	Remove       *Marker         `xml:"remove"`
}

// Marker is an empty, presence-only element such as <registered/> or <remove/>.
type Marker struct{}

// NewQuery creates an empty query element in the given namespace.
func NewQuery(namespace string) *Query {
	return &Query{XMLName: xml.Name{Space: namespace, Local: "query"}}
}

// Namespace returns the namespace of the query, or "" for a nil query.
func (q *Query) Namespace() string {
	if q == nil {
		return ""
	}
	return q.XMLName.Space
}

// NewIQ creates an IQ addressed to the given JID with a fresh random id.
func NewIQ(typ IQType, to jid.JID, query *Query) *IQ {
	return &IQ{
		IQ:    stanza.IQ{ID: uuid.NewString(), Type: typ, To: to},
		Query: query,
	}
}

// Reply creates a result IQ answering iq, swapping from and to.
func (iq *IQ) Reply(query *Query) *IQ {
	return &IQ{
		IQ:    stanza.IQ{ID: iq.ID, Type: IQ_TYPE_RESULT, From: iq.To, To: iq.From},
		Query: query,
	}
}

// ReplyError creates an error IQ answering iq with a legacy code and reason.
func (iq *IQ) ReplyError(code int, reason string) *IQ {
	return &IQ{
		IQ:    stanza.IQ{ID: iq.ID, Type: IQ_TYPE_ERROR, From: iq.To, To: iq.From},
		Error: NewStanzaError(code, reason),
	}
}

// FromJID returns the sender address, or ErrMalformedStanza when the
// stanza carries none.
func (iq *IQ) FromJID() (jid.JID, error) {
	if iq.From.Equal(jid.JID{}) {
		return jid.JID{}, fmt.Errorf("missing from attribute: %w", ErrMalformedStanza)
	}
	return iq.From, nil
}

// QueryNamespace returns the namespace of the query child, or "".
func (iq *IQ) QueryNamespace() string {
	return iq.Query.Namespace()
}

// IsResponse reports whether the IQ is of type result or error.
func (iq *IQ) IsResponse() bool {
	return iq.Type == IQ_TYPE_RESULT || iq.Type == IQ_TYPE_ERROR
}

// MarshalXML writes the envelope with stanza.IQ.StartElement, which leaves
// out empty addresses, followed by the payload.
func (iq *IQ) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := iq.IQ.StartElement()
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if iq.Query != nil {
		name := iq.Query.XMLName
		name.Local = "query"
		if err := e.EncodeElement(iq.Query, xml.StartElement{Name: name}); err != nil {
			return err
		}
	}
	if iq.Error != nil {
		if err := e.EncodeElement(iq.Error, xml.StartElement{Name: xml.Name{Local: "error"}}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Marshal encodes the IQ as XML.
func (iq *IQ) Marshal() ([]byte, error) {
	return xml.Marshal(iq)
}

// String returns the XML form of the IQ for logging.
func (iq *IQ) String() string {
	b, err := iq.Marshal()
	if err != nil {
		return fmt.Sprintf("<iq id=%q type=%q (unencodable: %v)>", iq.ID, iq.Type, err)
	}
	return string(b)
}

// ParseIQ decodes an IQ stanza from its XML form.
func ParseIQ(data []byte) (*IQ, error) {
	iq := new(IQ)
	if err := xml.Unmarshal(data, iq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStanza, err)
	}
	switch iq.Type {
	case IQ_TYPE_GET, IQ_TYPE_SET, IQ_TYPE_RESULT, IQ_TYPE_ERROR:
	default:
		return nil, fmt.Errorf("%w: unknown iq type %q", ErrMalformedStanza, iq.Type)
	}
	return iq, nil
}

// stanzaKind returns a metric label for the IQ payload.
func stanzaKind(iq *IQ) string {
	switch iq.QueryNamespace() {
	case NS_DISCO_ITEMS:
		return KIND_DISCO_ITEMS
	case NS_DISCO_INFO:
		return KIND_DISCO_INFO
	case NS_REGISTER:
		return "register_query"
	}
	if iq.Error != nil {
		return "error"
	}
	return strings.ToLower(string(iq.Type))
}

// strPtr returns a pointer to s.
func strPtr(s string) *string {
	return &s
}

// strValue dereferences p, returning "" for nil.
func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
