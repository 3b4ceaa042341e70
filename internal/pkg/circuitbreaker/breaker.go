// Package circuitbreaker guards outbound provider calls.
//
// A breaker tracks consecutive failures per named operation. Once the
// threshold is reached the circuit opens and every call short-circuits until
// the cool-off elapses; the next call after cool-off is attempted as if the
// circuit were closed and its outcome decides whether the circuit re-closes
// or re-opens. There is no separately tracked half-open state.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 5
	DefaultCoolOff          = 60 * time.Second
)

// Observable circuit states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open" // open, but cool-off elapsed: next call is let through
)

// CircuitOpenError is returned when a call is short-circuited without a
// fallback. It is distinct from the guarded operation's own errors so callers
// can alert on sustained outages separately from ordinary failures.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for operation %q", e.Name)
}

// Breaker is the failure-tracking state machine for one named operation.
// It is shared across all workers calling that operation.
type Breaker struct {
	mu            sync.Mutex
	name          string
	failures      int
	threshold     int
	coolOff       time.Duration
	open          bool
	lastFailureAt time.Time

	now func() time.Time // injectable clock for tests
}

// Config holds breaker parameters. Zero values use defaults.
type Config struct {
	FailureThreshold int
	CoolOff          time.Duration
}

// New creates a breaker for the given operation name.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = DefaultCoolOff
	}
	return &Breaker{
		name:      name,
		threshold: cfg.FailureThreshold,
		coolOff:   cfg.CoolOff,
		now:       time.Now,
	}
}

// Execute runs op through the breaker. While the circuit is open and within
// cool-off the call short-circuits with *CircuitOpenError; op is not invoked.
func (b *Breaker) Execute(op func() error) error {
	return b.ExecuteWithFallback(op, nil)
}

// ExecuteWithFallback behaves like Execute but invokes fallback instead of
// failing fast when the circuit is open.
func (b *Breaker) ExecuteWithFallback(op func() error, fallback func() error) error {
	if !b.allow() {
		if fallback != nil {
			return fallback()
		}
		return &CircuitOpenError{Name: b.name}
	}

	if err := op(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow reports whether a real call may be attempted right now.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.lastFailureAt) < b.coolOff {
		return false
	}
	// After cool-off exactly one call is let through; restarting the window
	// here keeps concurrent callers short-circuited until that call's
	// outcome re-closes or re-opens the circuit.
	b.lastFailureAt = b.now()
	return true
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureAt = b.now()
	if b.failures >= b.threshold {
		b.open = true
	}
}

// Name returns the operation name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// State returns the observable circuit state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return StateClosed
	}
	if b.now().Sub(b.lastFailureAt) >= b.coolOff {
		return StateHalfOpen
	}
	return StateOpen
}
