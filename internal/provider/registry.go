package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/tasksync/internal/domain"
)

// Factory builds an Adapter for a binding, resolving its credentials.
type Factory func(ctx context.Context, binding *domain.ListBinding) (Adapter, error)

// Registry maps provider kinds to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.ProviderKind]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.ProviderKind]Factory)}
}

// Register installs the factory for kind, replacing any previous one.
func (r *Registry) Register(kind domain.ProviderKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// AdapterFor builds the adapter serving binding.
func (r *Registry) AdapterFor(ctx context.Context, binding *domain.ListBinding) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[binding.ProviderKind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, binding.ProviderKind)
	}
	adapter, err := factory(ctx, binding)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s adapter: %w", binding.ProviderKind, err)
	}
	return adapter, nil
}
