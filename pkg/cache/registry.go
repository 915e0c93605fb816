package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Factory builds the Store for a namespace.
type Factory func(namespace string) (Store, error)

// Registry hands out one Store per namespace, building each lazily and
// memoizing it. A Registry is created once at startup and passed to the
// components that need stores.
type Registry struct {
	factory Factory

	mu     sync.Mutex
	stores map[string]Store
}

// NewRegistry creates a registry that builds stores with factory.
func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		panic("cache factory cannot be nil")
	}
	return &Registry{
		factory: factory,
		stores:  make(map[string]Store),
	}
}

// NewRedisRegistry creates a registry of RemoteStores sharing one client.
func NewRedisRegistry(client redis.UniversalClient, opts RemoteOptions) *Registry {
	return NewRegistry(func(namespace string) (Store, error) {
		return NewRemoteStore(client, namespace, opts)
	})
}

// NewNullRegistry creates a registry whose stores never hold anything.
func NewNullRegistry() *Registry {
	return NewRegistry(func(namespace string) (Store, error) {
		return NewNullStore(namespace), nil
	})
}

// Namespace returns the store for namespace, creating it on first use.
func (r *Registry) Namespace(namespace string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[namespace]; ok {
		return s, nil
	}
	s, err := r.factory(namespace)
	if err != nil {
		return nil, fmt.Errorf("create store for namespace %q: %w", namespace, err)
	}
	r.stores[namespace] = s
	return s, nil
}

// FlushNamespace removes every key in namespace.
func (r *Registry) FlushNamespace(ctx context.Context, namespace string) error {
	s, err := r.Namespace(namespace)
	if err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return fmt.Errorf("flush namespace %q: %w", namespace, err)
	}
	return nil
}

// Namespaces lists the namespaces created so far.
func (r *Registry) Namespaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	return names
}
