package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/veriwave/veriwave/pkg/detect"
)

// ErrBackendNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: detector backend not registered")

// Registry maps detector backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]func(DetectorEntry) (detect.Detector, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]func(DetectorEntry) (detect.Detector, error)),
	}
}

// Register registers a detector backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(DetectorEntry) (detect.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Create instantiates the backend named in entry. Returns
// [ErrBackendNotRegistered] if no factory is registered under that name.
func (r *Registry) Create(entry DetectorEntry) (detect.Detector, error) {
	r.mu.RLock()
	factory, ok := r.backends[entry.Backend]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.Backend)
	}
	return factory(entry)
}

// Names returns the registered backend names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
