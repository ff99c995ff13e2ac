package circuitbreaker

import (
	"context"
	"sort"
	"sync"
)

// Registry hands out one breaker per named resource, created lazily on
// first use. Per-resource configs win over the default.
type Registry struct {
	store      StateStore
	defaultCfg Config
	configs    map[string]Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry backed by store. configs maps resource
// names to their tuning; resources not listed use defaultCfg.
func NewRegistry(store StateStore, defaultCfg Config, configs map[string]Config) *Registry {
	if configs == nil {
		configs = make(map[string]Config)
	}
	return &Registry{
		store:      store,
		defaultCfg: defaultCfg.withDefaults(),
		configs:    configs,
		breakers:   make(map[string]*Breaker),
	}
}

// Get returns the breaker for a resource, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.defaultCfg
	}
	b = New(name, cfg, r.store)
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker for a resource without creating one.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Statuses returns the admin view of every known breaker, sorted by
// resource name.
func (r *Registry) Statuses(ctx context.Context) []Status {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.Status(ctx))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Resource < statuses[j].Resource
	})
	return statuses
}
