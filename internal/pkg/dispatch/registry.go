// Package dispatch maps (provider, event type) to a processor. Dispatch is a
// pure lookup table built at startup; an unmatched combination is a logged
// no-op so an unrecognized event type never poisons the queue.
package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ringlinehq/ringline/app/models"
)

// Processor applies one event's side effects. A nil return completes the
// event; an error hands it to the job queue's retry policy.
type Processor func(ctx context.Context, event *models.WebhookEvent) error

type prefixEntry struct {
	key       string // "provider:typePrefix." with the trailing ".*" stripped
	processor Processor
}

// Registry is the startup-built lookup table. Registration happens before the
// workers start; Resolve is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Processor
	prefixes []prefixEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Processor)}
}

// Register binds a processor to a provider and event type. An eventType
// ending in ".*" matches every type sharing the prefix, e.g.
// "customer.subscription.*".
func (r *Registry) Register(provider, eventType string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := key(provider, eventType)
	if prefix, found := strings.CutSuffix(key, "*"); found {
		r.prefixes = append(r.prefixes, prefixEntry{key: prefix, processor: p})
		// Longest prefix wins when patterns overlap.
		sort.SliceStable(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i].key) > len(r.prefixes[j].key)
		})
		return
	}
	r.exact[key] = p
}

// Resolve returns the processor for a (provider, eventType) pair. Exact
// matches take precedence over patterns.
func (r *Registry) Resolve(provider, eventType string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k := key(provider, eventType)
	if p, ok := r.exact[k]; ok {
		return p, true
	}
	for _, entry := range r.prefixes {
		if strings.HasPrefix(k, entry.key) {
			return entry.processor, true
		}
	}
	return nil, false
}

func key(provider, eventType string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + ":" + strings.TrimSpace(eventType)
}
