// Package plan expands an object selection and an operation selection into the
// ordered sequence of steps a run walks.
//
// Steps are grouped into phases by target type in the fixed order given by
// [objectstore.Phases]. Within a phase, objects keep the order the caller
// selected them in and, per object, operations keep their selection order.
// Object-less operations appear exactly once, in the last phase.
package plan

import (
	"fmt"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
)

// Lookup resolves operation names. *registry.Registry implements it.
type Lookup interface {
	Lookup(name string) (operation.Spec, error)
}

// Selection is the caller's choice of objects and operations for one run.
type Selection struct {
	// Objects lists object names per type in the order they were selected.
	Objects map[objectstore.Type][]string

	// Operations lists operation names in the order they were selected.
	Operations []string
}

// Step is one (object, operation) pairing. Object is nil for operations
// targeting [objectstore.TypeNone]. Index is the step's position in the plan.
type Step struct {
	Index     int
	Object    *objectstore.Handle
	Operation operation.Spec
}

// Phase returns the phase the step belongs to.
func (s Step) Phase() objectstore.Type {
	return s.Operation.Target
}

// ObjectName returns the object name, or "" for object-less steps.
func (s Step) ObjectName() string {
	if s.Object == nil {
		return ""
	}
	return s.Object.Name
}

func (s Step) String() string {
	return s.ObjectName() + "/" + s.Operation.Name
}

// Plan is an immutable, ordered list of steps.
type Plan struct {
	steps []Step
}

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.steps) }

// Step returns the step at index i.
func (p *Plan) Step(i int) Step { return p.steps[i] }

// Steps returns a copy of all steps.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Count returns the number of steps in phase.
func (p *Plan) Count(phase objectstore.Type) int {
	n := 0
	for _, s := range p.steps {
		if s.Phase() == phase {
			n++
		}
	}
	return n
}

// Phases returns the phases that contain at least one step, in plan order.
func (p *Plan) Phases() []objectstore.Type {
	var out []objectstore.Type
	for _, phase := range objectstore.Phases {
		if p.Count(phase) > 0 {
			out = append(out, phase)
		}
	}
	return out
}

// Build expands sel into a plan.
//
// Unknown operation names fail the build with an error wrapping
// [operation.ErrUnknownOperation]. Operations whose target type has no selected
// objects contribute no steps. Repeated object or operation names are ignored
// after their first occurrence.
func Build(sel Selection, ops Lookup) (*Plan, error) {
	specs := make([]operation.Spec, 0, len(sel.Operations))
	for _, name := range dedupe(sel.Operations) {
		spec, err := ops.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("build plan: %w", err)
		}
		specs = append(specs, spec)
	}

	p := &Plan{}
	for _, phase := range objectstore.Phases {
		if phase == objectstore.TypeNone {
			for _, spec := range specs {
				if spec.Target == objectstore.TypeNone {
					p.add(nil, spec)
				}
			}
			continue
		}

		for _, name := range dedupe(sel.Objects[phase]) {
			h := objectstore.Handle{Name: name, Type: phase}
			for _, spec := range specs {
				if spec.Target == phase {
					p.add(&h, spec)
				}
			}
		}
	}
	return p, nil
}

func (p *Plan) add(h *objectstore.Handle, spec operation.Spec) {
	var obj *objectstore.Handle
	if h != nil {
		cp := *h
		obj = &cp
	}
	p.steps = append(p.steps, Step{Index: len(p.steps), Object: obj, Operation: spec})
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
