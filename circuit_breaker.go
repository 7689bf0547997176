package go_xmppgate

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed means the circuit is allowing requests through normally.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen means the circuit is blocking requests due to too many failures.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen means the circuit is testing if the transport has recovered.
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreaker stops handing stanzas to a transport that keeps failing.
// After maxFailures consecutive failures the circuit opens and sends fail
// fast with ErrCircuitOpen; after resetTimeout one send is let through
// (half-open) and its outcome closes or reopens the circuit.
type CircuitBreaker struct {
	maxFailures  int           // Number of failures before opening circuit
	resetTimeout time.Duration // How long to wait before attempting half-open
	clock        clock.Clock
	failures     int          // Current failure count
	lastFailure  time.Time    // When the last failure occurred
	state        CircuitState // Current circuit state
	mu           sync.Mutex   // Protects all fields
}

// NewCircuitBreaker creates a circuit breaker on the wall clock.
// A maxFailures of 0 never opens the circuit.
//
// Example:
//
//	// Open circuit after 3 failures, try recovery after 30 seconds
//	cb := NewCircuitBreaker(3, 30*time.Second)
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithClock(maxFailures, resetTimeout, clock.New())
}

// NewCircuitBreakerWithClock creates a circuit breaker measuring the reset
// timeout on clk.
func NewCircuitBreakerWithClock(maxFailures int, resetTimeout time.Duration, clk clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		clock:        clk,
		state:        CircuitClosed,
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
//
// Example:
//
//	err := breaker.Execute(func() error {
//	    return transport.SendIQ(iq)
//	})
//	if errors.Is(err, ErrCircuitOpen) {
//	    // transport is considered down, don't retry immediately
//	}
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

// beforeRequest checks if the circuit allows the request.
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		since := cb.clock.Since(cb.lastFailure)
		if since >= cb.resetTimeout {
			cb.state = CircuitHalfOpen
			Debug("Circuit breaker transitioning to half-open state")
			return nil
		}
		return fmt.Errorf("%w (last failure: %v ago)", ErrCircuitOpen, since.Round(time.Second))

	case CircuitHalfOpen, CircuitClosed:
		return nil

	default:
		return fmt.Errorf("circuit breaker in unknown state: %s", cb.state)
	}
}

// afterRequest records the result of a request and updates circuit state.
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.lastFailure = cb.clock.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.maxFailures > 0 && cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			Warning("Circuit breaker opened after %d send failures", cb.failures)
		}

	case CircuitHalfOpen:
		cb.state = CircuitOpen
		Debug("Circuit breaker re-opened after half-open failure")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	if cb.state == CircuitHalfOpen {
		Debug("Circuit breaker closed after successful half-open test")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen returns true if the circuit is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == CircuitOpen
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually resets the circuit breaker to closed state with zero failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	Debug("Circuit breaker manually reset")
}

// String returns a human-readable representation of the circuit breaker state.
func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker{state=%s, failures=%d/%d}",
		cb.state, cb.failures, cb.maxFailures)
}
