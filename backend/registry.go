package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/texcache/gpucore"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	// WGPU > Software (Software is the fallback).
	backendPriority = []string{BackendWGPU, BackendSoftware}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get opens a device from the named backend.
func Get(name string) (gpucore.Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	return open(name, factory)
}

// Default opens the best available device based on priority.
// Priority order: wgpu > software
// Backends whose factory fails are skipped with a warning.
func Default() (gpucore.Device, error) {
	registryMu.RLock()
	ordered := make([]string, 0, len(backends))
	for _, name := range backendPriority {
		if _, ok := backends[name]; ok {
			ordered = append(ordered, name)
		}
	}
	// Fallback: remaining backends in name order
	rest := make([]string, 0, len(backends))
	for name := range backends {
		if !slices.Contains(backendPriority, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	ordered = append(ordered, rest...)
	factories := make([]Factory, len(ordered))
	for i, name := range ordered {
		factories[i] = backends[name]
	}
	registryMu.RUnlock()

	for i, name := range ordered {
		dev, err := open(name, factories[i])
		if err != nil {
			slogger().Warn("backend: skipping unavailable backend", "backend", name, "err", err)
			continue
		}
		return dev, nil
	}
	return nil, ErrBackendNotAvailable
}

// MustDefault returns the default device or panics.
func MustDefault() gpucore.Device {
	dev, err := Default()
	if err != nil {
		panic("backend: no backend available")
	}
	return dev
}

func open(name string, factory Factory) (gpucore.Device, error) {
	dev, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend: open %q: %w", name, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %q", ErrNilFactory, name)
	}
	return dev, nil
}
