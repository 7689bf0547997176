package go_xmppgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const maxRetryBackoff = 5 * time.Minute

// RetryWithBackoff executes fn with exponential backoff retry logic on the
// wall clock. It respects context cancellation and distinguishes between
// temporary and fatal errors.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - maxRetries: Maximum number of retry attempts (0 = no retries, negative = infinite)
//   - initialBackoff: Initial delay between retries (doubles each attempt, capped at 5 minutes)
//   - fn: Function to execute, should return nil on success
//
// Errors implementing Temporary() bool that return false, and ErrCircuitOpen,
// are fatal and returned without further retries.
//
// Example:
//
//	err := RetryWithBackoff(ctx, 3, 250*time.Millisecond, func() error {
//	    return transport.SendIQ(iq)
//	})
func RetryWithBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	return retryWithBackoff(ctx, clock.New(), maxRetries, initialBackoff, fn)
}

func retryWithBackoff(ctx context.Context, clk clock.Clock, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	attempt := 0
	backoff := initialBackoff

	for {
		err := fn()
		if err == nil {
			if attempt > 0 {
				Debug("Retry succeeded after %d attempts", attempt)
			}
			return nil
		}

		attempt++
		if retryErr := shouldRetryAfterError(err, attempt, maxRetries); retryErr != nil {
			return retryErr
		}

		Debug("Retry attempt %d failed: %v (waiting %v before retry)", attempt, err, backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff after %d attempts: %w", attempt, ctx.Err())
		case <-clk.After(backoff):
		}

		backoff = calculateNextBackoff(backoff, maxRetryBackoff)
	}
}

// shouldRetryAfterError returns nil when another attempt should be made.
func shouldRetryAfterError(err error, attempt int, maxRetries int) error {
	if !isRetryable(err) {
		Debug("Encountered fatal error (not retrying): %v", err)
		return err
	}
	if maxRetries >= 0 && attempt > maxRetries {
		return &MaxRetriesExceededError{Attempts: attempt, LastErr: err}
	}
	return nil
}

// calculateNextBackoff doubles the backoff up to maxBackoff.
func calculateNextBackoff(current time.Duration, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// isRetryable reports whether a send error may go away on its own. Errors
// without a Temporary method are assumed to be retryable.
func isRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrClientClosed) {
		return false
	}

	type temporary interface {
		Temporary() bool
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return true
}

// MaxRetriesExceededError is returned when the maximum number of retries is exceeded.
type MaxRetriesExceededError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("max retries (%d) exceeded: %v", e.Attempts-1, e.LastErr)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.LastErr
}
