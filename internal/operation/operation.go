// Package operation defines the immutable description of an analysis operation
// and the context it is invoked with.
//
// An operation is an opaque callable ([Func]) plus the metadata the engine needs
// to schedule it: the object type it targets, its declared parameter names and
// the venue it is constrained to ([Affinity]). The registry produces [Spec]
// values once at startup and nothing mutates them afterwards.
package operation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"batchpipe/internal/objectstore"
)

// ErrUnknownOperation is returned when an operation name is not registered.
var ErrUnknownOperation = errors.New("unknown operation")

// Affinity selects the execution venue an operation is constrained to.
type Affinity string

const (
	// Inline operations run on the orchestrator's own goroutine.
	Inline Affinity = "inline"

	// Concurrent operations run on a bounded worker goroutine while the plan
	// walk waits for them.
	Concurrent Affinity = "concurrent"

	// Isolated operations run in a separate worker process.
	Isolated Affinity = "isolated"
)

// ParseAffinity converts a table value into an [Affinity]. An empty value
// means [Concurrent].
func ParseAffinity(s string) (Affinity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "concurrent", "thread":
		return Concurrent, nil
	case "inline", "main":
		return Inline, nil
	case "isolated", "process":
		return Isolated, nil
	}
	return "", fmt.Errorf("unknown affinity: %q", s)
}

// StepContext is everything an operation receives for one invocation.
//
// Object is nil for operations targeting [objectstore.TypeNone]. Args holds the
// bound arguments for this step only and must not be retained.
type StepContext struct {
	Object objectstore.Object
	Args   map[string]any
	Stdout io.Writer
	Stderr io.Writer
}

// String returns the named argument formatted as a string.
func (sc StepContext) String(name string) string {
	v, ok := sc.Args[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns the named argument as a float64.
func (sc StepContext) Float(name string) (float64, error) {
	v, ok := sc.Args[name]
	if !ok {
		return 0, fmt.Errorf("argument %q not bound", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", name, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("argument %q: unsupported type %T", name, v)
}

// Func is the callable behind an operation.
type Func func(ctx context.Context, sc StepContext) error

// Catalog maps operation names to their callables. Registry tables are bound
// against a catalog at load time.
type Catalog map[string]Func

// Spec describes one registered operation.
type Spec struct {
	// Name identifies the operation in plans, reports and worker jobs.
	Name string

	// Target is the object type the operation runs on. TypeNone runs the
	// operation once per plan with a nil object.
	Target objectstore.Type

	// Params lists the parameter names resolved for each call, in order.
	Params []string

	// Affinity selects the venue the step runs in.
	Affinity Affinity

	// Defaults holds declared default values keyed by parameter name.
	Defaults map[string]any

	// Group and Alias are display metadata from the registry table.
	Group string
	Alias string

	// Func is the bound implementation. A spec without one cannot run.
	Func Func
}

// Default returns the declared default for a parameter.
func (s Spec) Default(name string) (any, bool) {
	v, ok := s.Defaults[name]
	return v, ok
}

// Validate checks the invariants of a spec loaded from a table.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.New("operation name is empty")
	}
	if !s.Target.IsValid() {
		return fmt.Errorf("operation %s: invalid target %q", s.Name, s.Target)
	}
	switch s.Affinity {
	case Inline, Concurrent, Isolated:
	default:
		return fmt.Errorf("operation %s: invalid affinity %q", s.Name, s.Affinity)
	}
	seen := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		if p == "" {
			return fmt.Errorf("operation %s: empty parameter name", s.Name)
		}
		if seen[p] {
			return fmt.Errorf("operation %s: duplicate parameter %q", s.Name, p)
		}
		seen[p] = true
	}
	return nil
}

// Display returns the alias if set, otherwise the name.
func (s Spec) Display() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}
