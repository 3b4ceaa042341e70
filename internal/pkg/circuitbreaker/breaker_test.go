package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New("stripe:get_subscription", Config{FailureThreshold: 3, CoolOff: time.Minute})
	opErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return opErr })
		if !errors.Is(err, opErr) {
			t.Fatalf("attempt %d: expected op error, got %v", i+1, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected circuit open after threshold, got state %q", b.State())
	}

	// Below threshold the op error passes through unchanged; at and beyond
	// the threshold calls short-circuit without invoking the op.
	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})

	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *CircuitOpenError, got %v", err)
	}
	if openErr.Name != "stripe:get_subscription" {
		t.Errorf("expected operation name in error, got %q", openErr.Name)
	}
	if invoked {
		t.Error("op must not be invoked while the circuit is open")
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := New("vapi:get_call", Config{FailureThreshold: 5, CoolOff: time.Minute})

	for i := 0; i < 4; i++ {
		_ = b.Execute(func() error { return errors.New("transient") })
	}

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, b.Failures())
}

func TestBreakerCoolOffLetsOneCallThrough(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := New("twilio:get_call", Config{FailureThreshold: 2, CoolOff: 60 * time.Second})
	b.now = func() time.Time { return current }

	opErr := errors.New("down")
	_ = b.Execute(func() error { return opErr })
	_ = b.Execute(func() error { return opErr })
	assert.Equal(t, StateOpen, b.State())

	// Within cool-off: still short-circuited.
	err := b.Execute(func() error { return nil })
	var openErr *CircuitOpenError
	assert.ErrorAs(t, err, &openErr)

	// After cool-off the next call is attempted; success re-closes.
	current = current.Add(61 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	invoked := false
	err = b.Execute(func() error {
		invoked = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreakerAdmitsSingleTrialCallAfterCoolOff(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := New("stripe:get_subscription", Config{FailureThreshold: 1, CoolOff: 60 * time.Second})
	b.now = func() time.Time { return current }

	_ = b.Execute(func() error { return errors.New("down") })
	current = current.Add(61 * time.Second)

	// A caller arriving while the trial call is still in flight must not
	// reach the provider; only one call goes through per cool-off window.
	trialRan := false
	err := b.Execute(func() error {
		trialRan = true
		inner := b.Execute(func() error {
			t.Fatal("second caller must not run while the trial call is in flight")
			return nil
		})
		var openErr *CircuitOpenError
		assert.ErrorAs(t, inner, &openErr)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, trialRan)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensWhenTrialCallFails(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := New("stripe:get_subscription", Config{FailureThreshold: 2, CoolOff: 60 * time.Second})
	b.now = func() time.Time { return current }

	opErr := errors.New("down")
	_ = b.Execute(func() error { return opErr })
	_ = b.Execute(func() error { return opErr })

	current = current.Add(2 * time.Minute)
	err := b.Execute(func() error { return opErr })
	assert.ErrorIs(t, err, opErr)
	assert.Equal(t, StateOpen, b.State())

	// A failed trial call restarts the cool-off window.
	current = current.Add(30 * time.Second)
	err = b.Execute(func() error { return nil })
	var openErr *CircuitOpenError
	assert.ErrorAs(t, err, &openErr)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("vapi:get_assistant", Config{FailureThreshold: 3, CoolOff: time.Minute})

	_ = b.Execute(func() error { return errors.New("blip") })
	_ = b.Execute(func() error { return errors.New("blip") })
	assert.Equal(t, 2, b.Failures())

	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, 0, b.Failures())

	// A fresh failure streak must reach the full threshold again.
	_ = b.Execute(func() error { return errors.New("blip") })
	_ = b.Execute(func() error { return errors.New("blip") })
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFallbackOnOpenCircuit(t *testing.T) {
	b := New("vapi:get_call", Config{FailureThreshold: 1, CoolOff: time.Minute})
	_ = b.Execute(func() error { return errors.New("down") })

	fallbackRan := false
	err := b.ExecuteWithFallback(
		func() error {
			t.Fatal("op must not run while open")
			return nil
		},
		func() error {
			fallbackRan = true
			return nil
		},
	)
	assert.NoError(t, err)
	assert.True(t, fallbackRan)
}

func TestRegistrySharesBreakerPerOperation(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, CoolOff: time.Minute})

	if r.Get("stripe:get_subscription") != r.Get("stripe:get_subscription") {
		t.Fatal("expected the same breaker instance for the same operation name")
	}
	if r.Get("stripe:get_subscription") == r.Get("twilio:get_call") {
		t.Fatal("expected distinct breakers for distinct operation names")
	}

	// Failures recorded through Execute land on the shared breaker.
	_ = r.Execute("twilio:get_call", func() error { return errors.New("down") })
	_ = r.Execute("twilio:get_call", func() error { return errors.New("down") })

	states := r.States()
	assert.Equal(t, StateOpen, states["twilio:get_call"])
	assert.Equal(t, StateClosed, states["stripe:get_subscription"])
}
