package provider

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hazelchat/hazelsync/internal/models"
)

// Registry holds the registered provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Provider]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Provider]Adapter)}
}

// Register adds an adapter. Registering nil or the same provider twice is an
// error.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return errors.New("adapter is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Provider()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter already registered: %s", name)
	}
	r.adapters[name] = a
	return nil
}

// MustRegister is Register for wiring-time registration, panicking on error.
func (r *Registry) MustRegister(a Adapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Get returns the adapter for a provider.
func (r *Registry) Get(p models.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, &NotSupportedError{Provider: p}
	}
	return a, nil
}

// Reactor returns the adapter if it mirrors reactions.
func (r *Registry) Reactor(p models.Provider) (Reactor, error) {
	a, err := r.Get(p)
	if err != nil {
		return nil, err
	}
	reactor, ok := a.(Reactor)
	if !ok {
		return nil, &NotSupportedError{Provider: p, Capability: "reactions"}
	}
	return reactor, nil
}

// ThreadCreator returns the adapter if it can open threads.
func (r *Registry) ThreadCreator(p models.Provider) (ThreadCreator, error) {
	a, err := r.Get(p)
	if err != nil {
		return nil, err
	}
	creator, ok := a.(ThreadCreator)
	if !ok {
		return nil, &NotSupportedError{Provider: p, Capability: "threads"}
	}
	return creator, nil
}

// Providers lists the registered providers.
func (r *Registry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]models.Provider, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
