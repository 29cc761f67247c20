package pathway

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// Registry is an immutable-after-register store of Pathways (§3): once a
// name is registered, nothing may replace or remove it. Registration order
// is preserved for §9 decision 4's first-registered-wins
// emulateOpenAIChatModel resolution.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	byName  map[string]*cortex.Pathway
	byLower map[string]*cortex.Pathway
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*cortex.Pathway),
		byLower: make(map[string]*cortex.Pathway),
	}
}

// Register adds p. Registering a second pathway under a name already taken
// is an error, per the immutability invariant (§3).
func (r *Registry) Register(p *cortex.Pathway) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("pathway: cannot register an unnamed pathway")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name]; exists {
		return fmt.Errorf("pathway: %q is already registered and pathways are immutable after registration", p.Name)
	}

	r.byName[p.Name] = p
	r.byLower[strings.ToLower(p.Name)] = p
	r.order = append(r.order, p.Name)
	return nil
}

// Get looks up a pathway by its exact registered name.
func (r *Registry) Get(name string) (*cortex.Pathway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// GetCaseInsensitive looks up a pathway ignoring case, used for tool-call
// dispatch to sys_tool_<name> pathways (§4.5 step 3).
func (r *Registry) GetCaseInsensitive(name string) (*cortex.Pathway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byLower[strings.ToLower(name)]
	return p, ok
}

// List returns every registered pathway in registration order.
func (r *Registry) List() []*cortex.Pathway {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*cortex.Pathway, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ResolveEmulatedModels returns the emulateOpenAIChatModel id → pathway
// mapping GET /v1/models aggregates from, applying §9 decision 4: the
// first-registered pathway claiming a given id wins; later claimants are
// skipped with a logged warning rather than a hard error.
func (r *Registry) ResolveEmulatedModels() map[string]*cortex.Pathway {
	r.mu.RLock()
	defer r.mu.RUnlock()

	claimed := make(map[string]*cortex.Pathway)
	for _, name := range r.order {
		p := r.byName[name]
		if p.EmulateOpenAIChatModel == "" {
			continue
		}
		if existing, taken := claimed[p.EmulateOpenAIChatModel]; taken {
			slog.Warn("pathway: emulateOpenAIChatModel id already claimed, skipping",
				"pathway", p.Name, "emulateOpenAIChatModel", p.EmulateOpenAIChatModel, "claimedBy", existing.Name)
			continue
		}
		claimed[p.EmulateOpenAIChatModel] = p
	}
	return claimed
}
