package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ringlinehq/ringline/internal/pkg/circuitbreaker"
	"github.com/ringlinehq/ringline/internal/pkg/retry"
)

func testCaller(threshold int) *Caller {
	return &Caller{
		Breakers:    circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: threshold, CoolOff: time.Minute}),
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}
}

func TestCallRetriesInsideBreaker(t *testing.T) {
	c := testCaller(5)

	attempts := 0
	err := c.Call("stripe:get_subscription", func() error {
		attempts++
		if attempts < 3 {
			return syscall.ECONNREFUSED
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, c.Breakers.Get("stripe:get_subscription").Failures())
}

func TestExhaustedRetryLoopCountsAsOneBreakerFailure(t *testing.T) {
	c := testCaller(2)

	attempts := 0
	err := c.Call("twilio:get_call", func() error {
		attempts++
		return syscall.ECONNREFUSED
	})

	// Three attempts inside the loop, one recorded breaker failure.
	var apiErr *retry.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, c.Breakers.Get("twilio:get_call").Failures())

	// A second exhausted loop reaches the threshold and opens the circuit.
	_ = c.Call("twilio:get_call", func() error { return syscall.ECONNREFUSED })
	assert.Equal(t, circuitbreaker.StateOpen, c.Breakers.Get("twilio:get_call").State())

	// Open circuit: the op is not invoked at all.
	invoked := false
	err = c.Call("twilio:get_call", func() error {
		invoked = true
		return nil
	})
	var openErr *circuitbreaker.CircuitOpenError
	assert.ErrorAs(t, err, &openErr)
	assert.False(t, invoked)
}

func TestNonTransientFailureDoesNotRetry(t *testing.T) {
	c := testCaller(5)

	statusErr := &StatusError{Operation: "stripe:get_subscription", StatusCode: 404, Body: "no such subscription"}
	attempts := 0
	err := c.Call("stripe:get_subscription", func() error {
		attempts++
		return statusErr
	})

	assert.Equal(t, 1, attempts)
	var got *StatusError
	assert.ErrorAs(t, err, &got)
	assert.Equal(t, 404, got.StatusCode)
	// The permanent failure still counts against the breaker.
	assert.Equal(t, 1, c.Breakers.Get("stripe:get_subscription").Failures())
}

func TestCallWithFallbackOnOpenCircuit(t *testing.T) {
	c := testCaller(1)
	_ = c.Call("vapi:get_call", func() error { return &StatusError{Operation: "vapi:get_call", StatusCode: 500} })

	fallbackRan := false
	err := c.CallWithFallback("vapi:get_call",
		func() error {
			t.Fatal("op must not run while the circuit is open")
			return nil
		},
		func() error {
			fallbackRan = true
			return nil
		})
	assert.NoError(t, err)
	assert.True(t, fallbackRan)
}

func TestStripeClientGetSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub_123", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_123","customer":"cus_9","status":"active","current_period_end":1748736000}`))
	}))
	defer server.Close()

	client := &StripeClient{
		SecretKey:  "sk_test",
		APIBaseURL: server.URL,
		HTTPClient: server.Client(),
		caller:     testCaller(5),
	}

	sub, err := client.GetSubscription(context.Background(), "sub_123")
	assert.NoError(t, err)
	assert.Equal(t, "cus_9", sub.Customer)
	assert.Equal(t, "active", sub.Status)
	if assert.NotNil(t, sub.PeriodEndTime()) {
		assert.Equal(t, int64(1748736000), sub.PeriodEndTime().Unix())
	}
}

func TestStripeClientNon2xxBecomesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"card declined"}}`))
	}))
	defer server.Close()

	client := &StripeClient{
		SecretKey:  "sk_test",
		APIBaseURL: server.URL,
		HTTPClient: server.Client(),
		caller:     testCaller(5),
	}

	_, err := client.GetSubscription(context.Background(), "sub_bad")
	var statusErr *StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusPaymentRequired, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "card declined")
}

func TestStripeClientConnectionRefusedIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close() // nothing listens here anymore

	client := &StripeClient{
		SecretKey:  "sk_test",
		APIBaseURL: baseURL,
		HTTPClient: &http.Client{Timeout: time.Second},
		caller:     testCaller(5),
	}

	_, err := client.GetSubscription(context.Background(), "sub_123")
	var apiErr *retry.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *retry.APIError after exhausting retries, got %v", err)
	}
	assert.Equal(t, 3, apiErr.Attempts)
	assert.True(t, errors.Is(apiErr, syscall.ECONNREFUSED))
}
