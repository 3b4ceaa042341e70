// Package retry wraps outbound calls in a bounded exponential-backoff loop.
// Only transient network failures are retried; everything else propagates
// immediately. Retry handles short blips, the circuit breaker handles
// sustained outages; the two are composed per call in apiclient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// sleepFn is swapped by tests to avoid real backoff waits.
var sleepFn = time.Sleep

// APIError wraps the last failure after all attempts were exhausted.
type APIError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("operation %q failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether err is a network failure expected to self-resolve:
// a timeout (connect or read) or a refused/reset connection.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// Do runs op, retrying transient failures up to maxAttempts with exponential
// backoff: attempt n waits baseDelay * 2^(n-1) before re-attempting. A
// non-transient error propagates immediately without retrying. Exhaustion
// returns an *APIError reporting the attempt count and the last failure.
func Do(operation string, maxAttempts int, baseDelay time.Duration, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts {
			sleepFn(baseDelay * (1 << (attempt - 1)))
		}
	}

	return &APIError{Operation: operation, Attempts: maxAttempts, Err: lastErr}
}
