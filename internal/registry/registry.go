// Package registry holds the static catalog of operations known to the engine.
//
// A [Registry] maps an operation name to its [operation.Spec]. It is built once
// at startup, usually by a [Loader] reading semicolon-separated tables, and is
// never mutated afterwards, so concurrent reads need no locking.
package registry

import (
	"errors"
	"fmt"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
)

// ErrUnknownOperation is returned by [Registry.Lookup] for unregistered names.
var ErrUnknownOperation = operation.ErrUnknownOperation

// ErrUnboundOperation is returned when a table row has no callable in the catalog.
var ErrUnboundOperation = errors.New("operation has no implementation")

// Registry is a read-only name to [operation.Spec] map preserving table order.
type Registry struct {
	specs map[string]operation.Spec
	order []string
}

// New builds a registry from specs. Specs are validated and names must be unique.
func New(specs ...operation.Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]operation.Spec, len(specs))}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.specs[s.Name]; dup {
			return nil, fmt.Errorf("duplicate operation: %s", s.Name)
		}
		r.specs[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (operation.Spec, error) {
	s, ok := r.specs[name]
	if !ok {
		return operation.Spec{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return s, nil
}

// ForTarget returns all specs targeting t in table order.
func (r *Registry) ForTarget(t objectstore.Type) []operation.Spec {
	var out []operation.Spec
	for _, name := range r.order {
		if s := r.specs[name]; s.Target == t {
			out = append(out, s)
		}
	}
	return out
}

// Names returns every registered name in table order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	return len(r.order)
}

// All returns every spec in table order.
func (r *Registry) All() []operation.Spec {
	out := make([]operation.Spec, len(r.order))
	for i, name := range r.order {
		out[i] = r.specs[name]
	}
	return out
}
