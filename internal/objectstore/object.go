// Package objectstore loads and caches the data objects operations act upon.
//
// Objects are identified by a [Handle] (name plus [Type]). The [Store] loads an
// object on first access through a host-supplied [Loader] and returns the
// cached instance afterwards, so a contiguous run of steps on the same handle
// triggers a single load.
//
// Key types:
//   - [Type] is the object kind and doubles as an operation's target type
//   - [Handle] is the comparable identity key into the store
//   - [Object] is the read-only view operations and the argument resolver use
//   - [Record] is a generic attribute-map implementation of [Object]
package objectstore

import (
	"fmt"
	"sort"
	"strings"
)

// Type is the kind of a data object. Operation target types use the same
// values, with [TypeNone] marking operations that ignore the current object.
type Type string

const (
	// TypeAnatomy is a per-subject anatomical model.
	TypeAnatomy Type = "anatomy"

	// TypeRecording is a per-recording subject.
	TypeRecording Type = "recording"

	// TypeGroup is a cross-subject group.
	TypeGroup Type = "group"

	// TypeNone is the target type of object-less operations.
	TypeNone Type = "none"
)

// Phases lists the object types in plan execution order.
var Phases = []Type{TypeAnatomy, TypeRecording, TypeGroup, TypeNone}

// typeAliases accepts the legacy table spellings alongside the canonical names.
var typeAliases = map[string]Type{
	"anatomy":   TypeAnatomy,
	"fsmri":     TypeAnatomy,
	"recording": TypeRecording,
	"meeg":      TypeRecording,
	"group":     TypeGroup,
	"none":      TypeNone,
	"other":     TypeNone,
	"":          TypeNone,
}

// ParseType converts a table or config spelling into a [Type].
// Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown object type: %q", s)
	}
	return t, nil
}

// IsValid reports whether t is one of the four known types.
func (t Type) IsValid() bool {
	switch t {
	case TypeAnatomy, TypeRecording, TypeGroup, TypeNone:
		return true
	}
	return false
}

// Label returns a capitalized display name.
func (t Type) Label() string {
	switch t {
	case TypeAnatomy:
		return "Anatomy"
	case TypeRecording:
		return "Recording"
	case TypeGroup:
		return "Group"
	case TypeNone:
		return "Other"
	}
	return string(t)
}

// Handle identifies an object in the [Store]. Two handles are equal iff their
// name and type are equal, so Handle can be used directly as a map key.
type Handle struct {
	Name string
	Type Type
}

func (h Handle) String() string {
	return string(h.Type) + "/" + h.Name
}

// Object is a loaded data object.
//
// Attributes returns the flat attribute map the argument resolver searches
// first. Callers must treat the returned map as read-only.
type Object interface {
	Name() string
	Type() Type
	Attributes() map[string]any
}

// Linked is implemented by objects that carry a reference to another loaded
// object, e.g. a recording and the anatomy it was recorded against.
type Linked interface {
	Link() Object
}

// Record is an [Object] backed by a plain attribute map.
type Record struct {
	name  string
	typ   Type
	attrs map[string]any
	link  Object
}

// NewRecord creates a [Record]. The attrs map is copied.
func NewRecord(name string, typ Type, attrs map[string]any) *Record {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Record{name: name, typ: typ, attrs: copied}
}

// WithLink returns a copy of r linked to other. Attributes of the linked object
// are visible through [Record.Attributes] unless r defines the same key.
func (r *Record) WithLink(other Object) *Record {
	cp := *r
	cp.link = other
	return &cp
}

func (r *Record) Name() string { return r.name }

func (r *Record) Type() Type { return r.typ }

// Link returns the linked object, or nil.
func (r *Record) Link() Object { return r.link }

// Attributes returns the record's attributes merged over those of its linked
// object, if any.
func (r *Record) Attributes() map[string]any {
	if r.link == nil {
		return r.attrs
	}
	merged := make(map[string]any, len(r.attrs))
	for k, v := range r.link.Attributes() {
		merged[k] = v
	}
	for k, v := range r.attrs {
		merged[k] = v
	}
	return merged
}

// AttributeKeys returns the sorted attribute names of obj.
func AttributeKeys(obj Object) []string {
	attrs := obj.Attributes()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
