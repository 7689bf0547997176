package go_xmppgate

import (
	"time"

	"mellium.im/xmpp/jid"
)

// RequirementField is one registration field a gateway may ask for.
type RequirementField struct {
	Required bool   // the server listed the field
	Value    string // prefilled value, if the server sent one
}

// Requirements is what a gateway asks for before it accepts a registration.
type Requirements struct {
	Instructions string
	Key          string
	Username     RequirementField
	Password     RequirementField
	Nick         RequirementField
	Email        RequirementField
	Registered   bool // the account is already registered with the gateway
}

func parseRequirements(q *Query) *Requirements {
	field := func(p *string) RequirementField {
		return RequirementField{Required: p != nil, Value: strValue(p)}
	}
	return &Requirements{
		Instructions: strValue(q.Instructions),
		Key:          strValue(q.Key),
		Username:     field(q.Username),
		Password:     field(q.Password),
		Nick:         field(q.Nick),
		Email:        field(q.Email),
		Registered:   q.Registered != nil,
	}
}

// RegistrationFields are the values submitted by Register. Key is always
// sent; the other fields only when non-empty.
type RegistrationFields struct {
	Key      string
	Username string
	Password string
	Nick     string
	Email    string
}

func (f RegistrationFields) query() *Query {
	q := NewQuery(NS_REGISTER)
	q.Key = strPtr(f.Key)
	if f.Username != "" {
		q.Username = strPtr(f.Username)
	}
	if f.Password != "" {
		q.Password = strPtr(f.Password)
	}
	if f.Nick != "" {
		q.Nick = strPtr(f.Nick)
	}
	if f.Email != "" {
		q.Email = strPtr(f.Email)
	}
	return q
}

// UnregisterFunc receives the outcome of Unregister. err is nil on success
// and a *StanzaError when the gateway refused.
type UnregisterFunc func(target jid.JID, err error)

// RequirementsFunc receives the outcome of QueryRequirements. Exactly one of
// req and err is non-nil.
type RequirementsFunc func(target jid.JID, req *Requirements, err error)

// RegisterFunc receives the outcome of Register.
type RegisterFunc func(target jid.JID, err error)

// regRequest is the state shared by all pending registration exchanges:
// one outstanding exchange with one target, answered by a one-shot handler.
type regRequest struct {
	kind      string
	target    jid.JID
	id        string // id of the IQ awaiting a response
	handlerID HandlerID
	started   time.Time
}

type unregisterRequest struct {
	regRequest
	fn            UnregisterFunc
	firstResponse bool // still waiting for the GET response
}

type requirementsRequest struct {
	regRequest
	fn RequirementsFunc
}

type registerRequest struct {
	regRequest
	fields RegistrationFields
	fn     RegisterFunc
}
