package providers

import (
	"fmt"
	"sync"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// Registry maps a Vendor to the Plugin that serves it, mutex-guarded for
// concurrent lookup during request dispatch.
type Registry struct {
	mu      sync.RWMutex
	plugins map[cortex.Vendor]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[cortex.Vendor]Plugin)}
}

// Register binds a Plugin to a vendor, replacing any existing binding.
func (r *Registry) Register(vendor cortex.Vendor, plugin Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[vendor] = plugin
}

// Get returns the plugin for vendor, or an error if none is registered.
func (r *Registry) Get(vendor cortex.Vendor) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[vendor]
	if !ok {
		return nil, fmt.Errorf("providers: no plugin registered for vendor %q", vendor)
	}
	return p, nil
}
