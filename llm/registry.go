package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ServiceRegistry is a thread-safe registry for the connector services an
// application wires up at startup: chat providers, text generators, and any
// other keyed service. It supports named registration, retrieval, listing,
// and a designated default, which is how hosts select between multiple
// configured backends.
type ServiceRegistry[T any] struct {
	services   map[string]T
	defaultKey string
	mu         sync.RWMutex
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry[T any]() *ServiceRegistry[T] {
	return &ServiceRegistry[T]{services: make(map[string]T)}
}

// Register adds a service under the given name, replacing any existing entry.
func (r *ServiceRegistry[T]) Register(name string, svc T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
}

// Get retrieves a service by name.
func (r *ServiceRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Default returns the default service.
// Returns an error if no default has been set or the default name is gone.
func (r *ServiceRegistry[T]) Default() (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if r.defaultKey == "" {
		return zero, fmt.Errorf("no default service set")
	}
	svc, ok := r.services[r.defaultKey]
	if !ok {
		return zero, fmt.Errorf("default service %q not found in registry", r.defaultKey)
	}
	return svc, nil
}

// SetDefault designates an existing registered service as the default.
func (r *ServiceRegistry[T]) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return fmt.Errorf("service %q not registered", name)
	}
	r.defaultKey = name
	return nil
}

// List returns the sorted names of all registered services.
func (r *ServiceRegistry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a service. If it was the default, the default is cleared.
func (r *ServiceRegistry[T]) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
	if r.defaultKey == name {
		r.defaultKey = ""
	}
}

// Len returns the number of registered services.
func (r *ServiceRegistry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// ProviderRegistry is the registry of chat completion providers.
type ProviderRegistry = ServiceRegistry[Provider]

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return NewServiceRegistry[Provider]()
}
