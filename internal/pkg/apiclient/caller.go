// Package apiclient holds the outbound provider clients (Stripe billing,
// Twilio telephony, Vapi assistant runtime). Every call runs through the
// shared circuit-breaker registry with a retry loop inside the breaker, so
// one exhausted retry loop counts as exactly one breaker failure.
package apiclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ringlinehq/ringline/internal/pkg/circuitbreaker"
	"github.com/ringlinehq/ringline/internal/pkg/retry"
)

const defaultHTTPTimeout = 15 * time.Second

// Caller composes the retry executor and circuit breaker for a named
// outbound operation. The breaker wraps the whole retry loop.
type Caller struct {
	Breakers    *circuitbreaker.Registry
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewCaller creates a Caller over a shared breaker registry.
func NewCaller(breakers *circuitbreaker.Registry) *Caller {
	return &Caller{
		Breakers:    breakers,
		MaxAttempts: retry.DefaultMaxAttempts,
		BaseDelay:   retry.DefaultBaseDelay,
	}
}

// Call runs op under the breaker registered for operation, retrying
// transient failures inside the breaker.
func (c *Caller) Call(operation string, op func() error) error {
	return c.Breakers.Execute(operation, func() error {
		return retry.Do(operation, c.MaxAttempts, c.BaseDelay, op)
	})
}

// CallWithFallback behaves like Call but invokes fallback instead of failing
// fast while the circuit is open.
func (c *Caller) CallWithFallback(operation string, op func() error, fallback func() error) error {
	return c.Breakers.ExecuteWithFallback(operation, func() error {
		return retry.Do(operation, c.MaxAttempts, c.BaseDelay, op)
	}, fallback)
}

// StatusError is a non-2xx provider response. It is not transient, so the
// retry executor propagates it immediately.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("operation %q returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// decodeResponse reads a provider response and unmarshals 2xx bodies into out.
func decodeResponse(operation string, resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
