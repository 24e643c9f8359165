package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a component from its raw JSON config and the shared
// dependencies.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// RegistrationConfig is everything a component contributes at registration.
type RegistrationConfig struct {
	Name        string
	Factory     Factory
	Schema      ConfigSchema
	Type        string
	Description string
	Version     string
}

// Registry maps component names to factories. Populated once at startup,
// then read-only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]RegistrationConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]RegistrationConfig)}
}

// RegisterWithConfig adds a component factory. Duplicate names are rejected
// so a wiring mistake fails startup instead of silently shadowing.
func (r *Registry) RegisterWithConfig(rc RegistrationConfig) error {
	if rc.Name == "" {
		return fmt.Errorf("component registration requires a name")
	}
	if rc.Factory == nil {
		return fmt.Errorf("component %s registration requires a factory", rc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[rc.Name]; exists {
		return fmt.Errorf("component %s already registered", rc.Name)
	}
	r.entries[rc.Name] = rc
	return nil
}

// Create instantiates a registered component.
func (r *Registry) Create(name string, rawConfig json.RawMessage, deps Dependencies) (Discoverable, error) {
	r.mu.RLock()
	rc, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown component %q", name)
	}
	c, err := rc.Factory(rawConfig, deps)
	if err != nil {
		return nil, fmt.Errorf("create component %s: %w", name, err)
	}
	return c, nil
}

// Schema returns the config schema a component registered with.
func (r *Registry) Schema(name string) (ConfigSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.entries[name]
	return rc.Schema, ok
}

// ListFactories returns the registered component names, sorted.
func (r *Registry) ListFactories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
