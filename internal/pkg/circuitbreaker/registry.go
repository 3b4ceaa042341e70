package circuitbreaker

import "sync"

// Registry manages breakers keyed by operation name (for example
// "stripe:create_checkout_session"). Breakers are created lazily on first
// use and shared by every caller of the same operation. The registry is
// injected into each outbound client; there is no implicit global.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a registry applying cfg to every new breaker.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for an operation name, creating one if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists = r.breakers[name]; exists {
		return b
	}

	b = New(name, r.config)
	r.breakers[name] = b
	return b
}

// Execute runs op through the breaker registered under name.
func (r *Registry) Execute(name string, op func() error) error {
	return r.Get(name).Execute(op)
}

// ExecuteWithFallback runs op through the named breaker with a fallback for
// the open-circuit case.
func (r *Registry) ExecuteWithFallback(name string, op func() error, fallback func() error) error {
	return r.Get(name).ExecuteWithFallback(op, fallback)
}

// States returns the observable state of every registered breaker, keyed by
// operation name.
func (r *Registry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
