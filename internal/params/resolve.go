// Package params resolves an operation's declared parameters into bound
// arguments for a single step.
//
// Resolution searches, per parameter name and in order:
//
//  1. the loaded object itself, when the name is "object" or the target kind
//  2. the object's attribute map
//  3. run-scoped settings
//  4. the persisted parameter store
//  5. the operation's declared default
//
// The first source holding the name wins. [Resolve] is a pure function of its
// inputs and nothing is cached between steps.
package params

import (
	"errors"
	"fmt"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
)

// ErrUnresolvedParameter matches every [UnresolvedError].
var ErrUnresolvedParameter = errors.New("unresolved parameter")

// UnresolvedError reports a declared parameter no source could supply.
type UnresolvedError struct {
	Operation string
	Name      string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("operation %s: unresolved parameter %q", e.Operation, e.Name)
}

// Is makes errors.Is(err, ErrUnresolvedParameter) succeed.
func (e *UnresolvedError) Is(target error) bool { return target == ErrUnresolvedParameter }

// ObjectParam is the parameter name that always binds the loaded object.
const ObjectParam = "object"

// Lookup is a read-only key/value source.
type Lookup interface {
	Get(key string) (any, bool)
}

// Map is a [Lookup] over a plain map. A nil Map is empty.
type Map map[string]any

// Get implements [Lookup].
func (m Map) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Bindings maps parameter names to resolved values for one step.
type Bindings map[string]any

// Resolve binds every parameter declared by spec.
//
// obj may be nil for operations targeting [objectstore.TypeNone]. settings and
// store may be nil.
func Resolve(spec operation.Spec, obj objectstore.Object, settings, store Lookup) (Bindings, error) {
	b := make(Bindings, len(spec.Params))

	var attrs map[string]any
	if obj != nil {
		attrs = obj.Attributes()
	}

	for _, name := range spec.Params {
		if obj != nil && isObjectParam(name, obj.Type()) {
			b[name] = obj
			continue
		}
		if v, ok := attrs[name]; ok {
			b[name] = v
			continue
		}
		if v, ok := get(settings, name); ok {
			b[name] = v
			continue
		}
		if v, ok := get(store, name); ok {
			b[name] = v
			continue
		}
		if v, ok := spec.Default(name); ok {
			b[name] = v
			continue
		}
		return nil, &UnresolvedError{Operation: spec.Name, Name: name}
	}
	return b, nil
}

func isObjectParam(name string, t objectstore.Type) bool {
	return name == ObjectParam || name == string(t)
}

func get(l Lookup, key string) (any, bool) {
	if l == nil {
		return nil, false
	}
	return l.Get(key)
}

// Resolver bundles the run-scoped lookups and per-operation extras the engine
// resolves against.
type Resolver struct {
	Settings Lookup
	Store    Lookup

	// Extras holds additional keyword arguments per operation name. They are
	// merged after resolution and never replace a resolved parameter.
	Extras map[string]map[string]any
}

// Resolve binds spec's parameters for obj and merges the operation's extras.
func (r Resolver) Resolve(spec operation.Spec, obj objectstore.Object) (Bindings, error) {
	b, err := Resolve(spec, obj, r.Settings, r.Store)
	if err != nil {
		return nil, err
	}
	for k, v := range r.Extras[spec.Name] {
		if _, ok := b[k]; !ok {
			b[k] = v
		}
	}
	return b, nil
}
