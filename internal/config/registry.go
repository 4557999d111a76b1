package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// ErrBackendNotRegistered is returned by [Registry.CreateBackend] when no
// factory has been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: synthesis backend not registered")

// BackendFactory builds a synthesis backend from its configuration block.
type BackendFactory func(SynthesisConfig) (tts.Provider, error)

// Registry maps synthesis backend names to their constructors. It is safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]BackendFactory)}
}

// RegisterBackend registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// CreateBackend instantiates the backend registered under cfg.Backend.
func (r *Registry) CreateBackend(cfg SynthesisConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.backends[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create backend %q: %w", cfg.Backend, err)
	}
	return p, nil
}

// Backends returns the registered names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
