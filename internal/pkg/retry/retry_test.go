package retry

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubSleep records backoff delays instead of waiting.
func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleepFn
	sleepFn = func(d time.Duration) { delays = append(delays, d) }
	t.Cleanup(func() { sleepFn = orig })
	return &delays
}

func TestDoRetriesTransientFailures(t *testing.T) {
	delays := stubSleep(t)

	attempts := 0
	err := Do("stripe:get_subscription", 3, 100*time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return syscall.ECONNREFUSED
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestDoExhaustionReturnsAPIError(t *testing.T) {
	stubSleep(t)

	attempts := 0
	err := Do("twilio:get_call", 3, time.Millisecond, func() error {
		attempts++
		return syscall.ECONNRESET
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	assert.Equal(t, "twilio:get_call", apiErr.Operation)
	assert.Equal(t, 3, apiErr.Attempts)
	assert.ErrorIs(t, apiErr, syscall.ECONNRESET)
	assert.Equal(t, 3, attempts)
}

func TestDoNonTransientPropagatesImmediately(t *testing.T) {
	delays := stubSleep(t)

	opErr := errors.New("invalid request")
	attempts := 0
	err := Do("vapi:get_call", 5, time.Millisecond, func() error {
		attempts++
		return opErr
	})

	// No *APIError wrapper and no backoff for permanent failures.
	assert.Equal(t, opErr, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *delays)
}

func TestDoBackoffDoubles(t *testing.T) {
	delays := stubSleep(t)

	_ = Do("op", 4, time.Second, func() error { return syscall.ECONNREFUSED })

	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestTransientClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"timeout", &timeoutError{}, true},
		{"plain error", errors.New("bad response"), false},
		{"wrapped refused", wrapErr{syscall.ECONNREFUSED}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.transient {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.transient)
			}
		})
	}
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

type wrapErr struct{ inner error }

func (w wrapErr) Error() string { return "request failed: " + w.inner.Error() }
func (w wrapErr) Unwrap() error { return w.inner }
