package protocol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves wire names to message types. Construct one at startup
// and pass it to every codec and dispatcher that needs it.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*MessageType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*MessageType)}
}

// DefaultRegistry returns a new registry holding Catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Catalog() {
		r.byName[t.Name()] = t
	}
	return r
}

// Register adds a nominal type. Extension types are created with Define.
func (r *Registry) Register(t *MessageType) error {
	if t == nil || strings.TrimSpace(t.Name()) == "" {
		return ErrMissingType
	}
	t = t.Nominal()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, t.Name())
	}
	r.byName[t.Name()] = t
	return nil
}

// Lookup never fails: unregistered names resolve to Unknown.
func (r *Registry) Lookup(name string) *MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.byName[name]; ok {
		return t
	}
	return Unknown
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Define creates a nominal type outside the built-in catalog, e.g. for a
// kernel-specific request. The result must still be registered.
func Define[T any](name string, kind Kind) *MessageType {
	return define[T](name, kind)
}
