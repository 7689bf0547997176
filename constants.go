package go_xmppgate

import (
	"time"

	"mellium.im/xmpp/stanza"
)

// XMPP Protocol Constants
//
// This file contains the namespaces, stanza attribute values and timing
// constants used by the discovery (XEP-0030) and in-band registration
// (XEP-0077) exchanges this library drives against transport gateways.
//
// Note: This library only correlates and aggregates IQ exchanges. Stream
// negotiation, authentication and presence are handled by whatever Transport
// the application plugs in.

// Namespace Constants
const (
	NS_DISCO_ITEMS = "http://jabber.org/protocol/disco#items"
	NS_DISCO_INFO  = "http://jabber.org/protocol/disco#info"
	NS_REGISTER    = "jabber:iq:register"
)

// IQ Type Constants
const (
	IQ_TYPE_GET    = stanza.GetIQ
	IQ_TYPE_SET    = stanza.SetIQ
	IQ_TYPE_RESULT = stanza.ResultIQ
	IQ_TYPE_ERROR  = stanza.ErrorIQ
)

// Stanza Error Code Constants
// Legacy numeric codes carried in the error element's code attribute.
const (
	STANZA_ERROR_CODE_UNSUPPORTED = 400
	STANZA_ERROR_CODE_DECLINED    = 403
)

// Discovery Timing Constants
const (
	DISCO_ITEMS_TIMEOUT = 20 * time.Second // whole item listing of a crawl
	DISCO_INFO_TIMEOUT  = 10 * time.Second // each per-item info lookup
)

// DISCO_DEFAULT_UNRESPONSIVE is an item address that is known never to answer
// info requests. Crawls count it as already complete instead of waiting out
// its timeout.
const DISCO_DEFAULT_UNRESPONSIVE = "users.jabber.org"

// Identity and Feature Constants
const (
	DISCO_CATEGORY_GATEWAY = "gateway"
	DISCO_FEATURE_REGISTER = NS_REGISTER
)

// Client Property Names
const (
	PROP_DISCO_ITEMS_TIMEOUT    = "xmppgate.disco.itemsTimeout"
	PROP_DISCO_INFO_TIMEOUT     = "xmppgate.disco.infoTimeout"
	PROP_DISCO_UNRESPONSIVE     = "xmppgate.disco.unresponsive"
	PROP_SEND_RETRIES           = "xmppgate.send.retries"
	PROP_SEND_BACKOFF           = "xmppgate.send.backoff"
	PROP_BREAKER_MAX_FAILURES   = "xmppgate.breaker.maxFailures"
	PROP_BREAKER_RESET_TIMEOUT  = "xmppgate.breaker.resetTimeout"
	PROP_LOG_LEVEL              = "xmppgate.log.level"
	NR_OF_XMPPGATE_PROPERTIES   = 8
	defaultConfigFileEnvVar     = "GO_XMPPGATE_CONF"
	defaultConfigHomeEnvVar     = "XMPPGATE_HOME"
	defaultConfigFileName       = "/.xmppgate.conf"
	defaultSendBackoffFallback  = 250 * time.Millisecond
	defaultBreakerResetFallback = 30 * time.Second
)

// Logger Level Constants
const (
	DEBUG   = 1 << 4
	INFO    = 1 << 5
	WARNING = 1 << 6
	ERROR   = 1 << 7
	FATAL   = 1 << 8
)

// Stanza kinds used as metric and diagnostic labels.
const (
	KIND_DISCO_ITEMS  = "disco_items"
	KIND_DISCO_INFO   = "disco_info"
	KIND_UNREGISTER   = "unregister"
	KIND_REQUIREMENTS = "requirements"
	KIND_REGISTER     = "register"
)
