package go_xmppgate

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var defaultProperties = map[string]string{
	PROP_DISCO_ITEMS_TIMEOUT:   DISCO_ITEMS_TIMEOUT.String(),
	PROP_DISCO_INFO_TIMEOUT:    DISCO_INFO_TIMEOUT.String(),
	PROP_DISCO_UNRESPONSIVE:    DISCO_DEFAULT_UNRESPONSIVE,
	PROP_SEND_RETRIES:          "0",
	PROP_SEND_BACKOFF:          defaultSendBackoffFallback.String(),
	PROP_BREAKER_MAX_FAILURES:  "5",
	PROP_BREAKER_RESET_TIMEOUT: defaultBreakerResetFallback.String(),
	PROP_LOG_LEVEL:             "error",
}

// Client is the context object owning every correlation table of the engine:
// the discovery session table, the three registration request tables and the
// registry of transport account lists. All of them are guarded by lock.
//
// User callbacks are never invoked while lock is held, so callbacks may call
// back into the client.
type Client struct {
	callbacks  *ClientCallBacks
	properties map[string]string
	transport  Transport
	clock      clock.Clock
	logger     *Logger

	lock   sync.Mutex
	closed bool

	// Ordered inbound IQ handler chain
	handlers      []*iqHandler
	nextHandlerID uint64

	discoSessions   map[string]*DiscoSession
	unregisterReq   map[string]*unregisterRequest
	requirementsReq map[string]*requirementsRequest
	registerReq     map[string]*registerRequest
	accountLists    []*TransportAccountList

	// Metrics collection (optional production monitoring)
	metricsMu sync.RWMutex
	metrics   MetricsCollector // nil = metrics disabled

	// Fails sends fast while the transport keeps erroring
	circuitBreaker *CircuitBreaker
}

// NewClient creates a client sending stanzas through transport.
// callbacks may be nil.
func NewClient(transport Transport, callbacks *ClientCallBacks) *Client {
	return NewClientWithClock(transport, callbacks, clock.New())
}

// NewClientWithClock creates a client whose discovery timeouts run on clk.
// Tests pass a *clock.Mock to drive timeouts deterministically.
func NewClientWithClock(transport Transport, callbacks *ClientCallBacks, clk clock.Clock) (c *Client) {
	c = new(Client)
	c.callbacks = callbacks
	c.transport = transport
	c.clock = clk
	c.discoSessions = make(map[string]*DiscoSession)
	c.unregisterReq = make(map[string]*unregisterRequest)
	c.requirementsReq = make(map[string]*requirementsRequest)
	c.registerReq = make(map[string]*registerRequest)
	c.setDefaultProperties()
	c.logger = NewLogger(c.loggerCallbacks(), parseLogLevel(c.properties[PROP_LOG_LEVEL]))
	c.circuitBreaker = c.newCircuitBreakerLocked()
	return
}

func (c *Client) setDefaultProperties() {
	c.properties = make(map[string]string, NR_OF_XMPPGATE_PROPERTIES)
	for k, v := range defaultProperties {
		c.properties[k] = v
	}
	conf := os.Getenv(defaultConfigFileEnvVar)
	if len(conf) == 0 {
		conf = defaultConfigFileName
	}
	config := os.Getenv(defaultConfigHomeEnvVar) + conf
	Debug("Loading config file %s", config)
	ParseConfig(config, c.setPropertyLocked)
}

func (c *Client) loggerCallbacks() *LoggerCallbacks {
	if c.callbacks == nil || c.callbacks.OnLog == nil {
		return nil
	}
	return &LoggerCallbacks{
		Opaque: c.callbacks.Opaque,
		OnLog: func(_ *Logger, level int, message string) {
			c.callbacks.OnLog(c, level, message)
		},
	}
}

// ensureInitialized checks if the Client has been properly initialized.
// Returns ErrClientNotInitialized if the client was created with zero-value (Client{})
// instead of using NewClient().
func (c *Client) ensureInitialized() error {
	if c == nil || c.properties == nil || c.discoSessions == nil || c.clock == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// SetProperty sets a known client property. Unknown names are ignored.
func (c *Client) SetProperty(name, value string) {
	if c.properties == nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.setPropertyLocked(name, value)
}

func (c *Client) setPropertyLocked(name, value string) {
	if _, ok := c.properties[name]; !ok {
		Debug("Ignoring unknown property %s", name)
		return
	}
	c.properties[name] = value
	switch name {
	case PROP_BREAKER_MAX_FAILURES, PROP_BREAKER_RESET_TIMEOUT:
		if c.clock != nil {
			c.circuitBreaker = c.newCircuitBreakerLocked()
		}
	case PROP_LOG_LEVEL:
		if c.logger != nil {
			c.logger.setLogLevel(parseLogLevel(value))
		}
	}
}

// Property returns the current value of a client property.
func (c *Client) Property(name string) string {
	if c.properties == nil {
		return ""
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.properties[name]
}

func (c *Client) newCircuitBreakerLocked() *CircuitBreaker {
	return NewCircuitBreakerWithClock(
		parseIntWithDefault(c.properties[PROP_BREAKER_MAX_FAILURES], 5),
		parseDurationWithDefault(c.properties[PROP_BREAKER_RESET_TIMEOUT], defaultBreakerResetFallback),
		c.clock,
	)
}

func (c *Client) discoItemsTimeoutLocked() time.Duration {
	return parseDurationWithDefault(c.properties[PROP_DISCO_ITEMS_TIMEOUT], DISCO_ITEMS_TIMEOUT)
}

func (c *Client) discoInfoTimeoutLocked() time.Duration {
	return parseDurationWithDefault(c.properties[PROP_DISCO_INFO_TIMEOUT], DISCO_INFO_TIMEOUT)
}

// unresponsiveLocked returns the configured known-unresponsive item address,
// or "" when the special case is disabled.
func (c *Client) unresponsiveLocked() string {
	s := c.properties[PROP_DISCO_UNRESPONSIVE]
	if s == "" {
		return ""
	}
	j, err := ParseJID(s)
	if err != nil {
		Warning("Ignoring invalid %s value %q", PROP_DISCO_UNRESPONSIVE, s)
		return ""
	}
	return jidKey(j)
}

// SetTransport replaces the transport used for outbound stanzas.
func (c *Client) SetTransport(transport Transport) {
	c.lock.Lock()
	c.transport = transport
	c.lock.Unlock()
}

// Clock returns the clock driving discovery timeouts.
func (c *Client) Clock() clock.Clock {
	return c.clock
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

// sendIQ hands an outbound stanza to the transport, through the circuit
// breaker and, for temporary failures, the configured retry policy.
// Must not be called with c.lock held.
func (c *Client) sendIQ(iq *IQ) error {
	c.lock.Lock()
	transport := c.transport
	breaker := c.circuitBreaker
	retries := parseIntWithDefault(c.properties[PROP_SEND_RETRIES], 0)
	backoff := parseDurationWithDefault(c.properties[PROP_SEND_BACKOFF], defaultSendBackoffFallback)
	closed := c.closed
	c.lock.Unlock()

	if closed {
		return ErrClientClosed
	}
	if transport == nil {
		return ErrNotConnected
	}

	send := func() error {
		return breaker.Execute(func() error {
			return transport.SendIQ(iq)
		})
	}

	var err error
	if retries > 0 {
		err = retryWithBackoff(context.Background(), c.clock, retries, backoff, send)
	} else {
		err = send()
	}
	if err != nil {
		c.trackError("send")
		c.logger.log(WARNING, "Failed to send %s iq %s to %s: %v", iq.Type, iq.ID, iq.To, err)
		if c.callbacks != nil && c.callbacks.OnSendError != nil {
			c.callbacks.OnSendError(c, iq, err)
		}
		return err
	}

	c.logger.log(DEBUG, "Sent %s iq %s (%s) to %s", iq.Type, iq.ID, stanzaKind(iq), iq.To)
	if m := c.GetMetrics(); m != nil {
		m.IncrementStanzaSent(stanzaKind(iq))
	}
	return nil
}

// Close destroys every discovery session, drops every pending registration
// request and closes every transport account list. Callbacks of pending
// requests are not invoked.
func (c *Client) Close() error {
	if err := c.ensureInitialized(); err != nil {
		return err
	}

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return ErrClientClosed
	}
	c.closed = true

	sessions := make([]*DiscoSession, 0, len(c.discoSessions))
	for _, s := range c.discoSessions {
		sessions = append(sessions, s)
	}
	for key, req := range c.unregisterReq {
		c.removeHandlerLocked(req.handlerID)
		delete(c.unregisterReq, key)
	}
	for key, req := range c.requirementsReq {
		c.removeHandlerLocked(req.handlerID)
		delete(c.requirementsReq, key)
	}
	for key, req := range c.registerReq {
		c.removeHandlerLocked(req.handlerID)
		delete(c.registerReq, key)
	}
	lists := append([]*TransportAccountList(nil), c.accountLists...)
	c.lock.Unlock()

	Info("Closing client %p: %d discovery sessions, %d account lists", c, len(sessions), len(lists))

	for _, s := range sessions {
		s.Destroy()
	}
	for _, l := range lists {
		l.Close()
	}

	c.lock.Lock()
	c.updateGaugesLocked()
	c.lock.Unlock()
	return nil
}

// SetMetrics enables metrics collection with the provided collector.
// Pass nil to disable metrics collection.
func (c *Client) SetMetrics(metrics MetricsCollector) {
	if err := c.ensureInitialized(); err != nil {
		return
	}

	c.metricsMu.Lock()
	c.metrics = metrics
	c.metricsMu.Unlock()

	c.lock.Lock()
	c.updateGaugesLocked()
	c.lock.Unlock()
}

// GetMetrics returns the current metrics collector, or nil if disabled.
func (c *Client) GetMetrics() MetricsCollector {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

// GetCircuitBreakerState returns the current state of the send circuit breaker.
func (c *Client) GetCircuitBreakerState() CircuitState {
	if err := c.ensureInitialized(); err != nil {
		return CircuitClosed
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	return c.circuitBreaker.State()
}

// ResetCircuitBreaker manually resets the send circuit breaker to closed state.
func (c *Client) ResetCircuitBreaker() error {
	if err := c.ensureInitialized(); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.circuitBreaker.Reset()
	return nil
}

// trackError records an error in metrics if enabled.
func (c *Client) trackError(errorType string) {
	if m := c.GetMetrics(); m != nil {
		m.IncrementError(errorType)
	}
}

// trackLatency records the duration of a completed request if metrics are enabled.
func (c *Client) trackLatency(kind string, started time.Time) {
	if m := c.GetMetrics(); m != nil {
		m.RecordRequestLatency(kind, c.clock.Since(started))
	}
}

func (c *Client) updateGaugesLocked() {
	m := c.GetMetrics()
	if m == nil {
		return
	}
	m.SetActiveDiscoSessions(len(c.discoSessions))
	m.SetPendingRegistrations(len(c.unregisterReq) + len(c.requirementsReq) + len(c.registerReq))
}
