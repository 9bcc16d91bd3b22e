package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a Provider instance from its configuration.
type Factory func(cfg Config) (Provider, error)

// Registry is a register/get/list cache of named provider factories and the
// instances built from them, generalized from the chain adapter layer's
// blockchain-RPC ProviderRegistry to price-feed providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
	}
}

// Register adds a factory under providerType. Re-registering the same type
// is an error: provider wiring happens once at startup.
func (r *Registry) Register(providerType string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if providerType == "" {
		return fmt.Errorf("provider: provider type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("provider: factory cannot be nil")
	}
	if _, exists := r.factories[providerType]; exists {
		return fmt.Errorf("provider: type %q already registered", providerType)
	}
	r.factories[providerType] = factory
	return nil
}

// Build instantiates (or returns the cached instance for) the provider
// configured by cfg, keyed by providerType+cfg.ID so the same config never
// constructs two live instances.
func (r *Registry) Build(providerType string, cfg Config) (Provider, error) {
	cacheKey := providerType + ":" + cfg.ID

	r.mu.RLock()
	if p, ok := r.instances[cacheKey]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[cacheKey]; ok {
		return p, nil
	}

	factory, ok := r.factories[providerType]
	if !ok {
		return nil, fmt.Errorf("provider: type %q not registered", providerType)
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("provider: constructing %q: %w", providerType, err)
	}
	r.instances[cacheKey] = p
	return p, nil
}

// All returns every currently-instantiated provider, in no particular order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.instances))
	for _, p := range r.instances {
		out = append(out, p)
	}
	return out
}
