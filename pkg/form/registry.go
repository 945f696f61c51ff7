package form

import (
	"fmt"
	"slices"
	"sync"

	"github.com/agentstation/formsync/pkg/errors"
)

// Registry indexes definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds definitions. Names must be unique and non-empty.
func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if def == nil || def.name == "" {
			return errors.NewConfigError("registry", "definition must have a name", nil)
		}
		if _, exists := r.defs[def.name]; exists {
			return errors.NewConfigError("registry", fmt.Sprintf("form %q already registered", def.name), nil)
		}
		r.defs[def.name] = def
	}
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, errors.NewConfigError("registry", fmt.Sprintf("unknown form %q", name),
			errors.NewNotFoundError("form", name))
	}
	return def, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolver returns a Resolver that reads a form name (or a *Definition)
// from doc[key], removes the key, and looks the form up. Documents without
// the key keep the default definition.
func (r *Registry) Resolver(key string) Resolver {
	return func(doc Document, _ Config) (*Definition, error) {
		raw, ok := doc[key]
		if !ok {
			return nil, nil
		}
		delete(doc, key)

		switch v := raw.(type) {
		case *Definition:
			if v == nil {
				return nil, errors.NewConfigError("registry", "nil form override", nil)
			}
			return v, nil
		case string:
			return r.Lookup(v)
		default:
			return nil, errors.NewConfigError("registry", fmt.Sprintf("form override %q must be a name, got %T", key, raw), nil)
		}
	}
}
