// Package project reads a batch project from disk and supplies the object
// loader the engine's object store calls.
//
// Layout:
//
//	<root>/project.yaml          selection, settings and per-operation extras
//	<root>/anatomy/<name>.yaml   one attribute map per anatomy
//	<root>/recordings/<name>.yaml
//	<root>/groups/<name>.yaml
//
// A recording whose attributes name an "anatomy" is linked to that anatomy, so
// the anatomy's attributes are visible when resolving the recording's
// parameters. The anatomy is fetched through the object store and therefore
// loaded at most once.
package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/plan"
)

// FileName is the project file inside the project root.
const FileName = "project.yaml"

// AnatomyKey is the recording attribute naming the linked anatomy.
const AnatomyKey = "anatomy"

// typeDirs maps object types to their directory under the project root.
var typeDirs = map[objectstore.Type]string{
	objectstore.TypeAnatomy:   "anatomy",
	objectstore.TypeRecording: "recordings",
	objectstore.TypeGroup:     "groups",
}

// SelectionFile is the selection block of project.yaml.
type SelectionFile struct {
	Anatomy    []string `yaml:"anatomy"`
	Recordings []string `yaml:"recordings"`
	Groups     []string `yaml:"groups"`
	Operations []string `yaml:"operations"`
}

// Project is a loaded project.yaml.
type Project struct {
	Root string `yaml:"-"`

	Name      string                    `yaml:"name"`
	Selection SelectionFile             `yaml:"selection"`
	Settings  map[string]any            `yaml:"settings"`
	Extras    map[string]map[string]any `yaml:"extras"`
}

// Load reads <root>/project.yaml.
func Load(root string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project file: %w", err)
	}
	p.Root = root
	if p.Name == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		p.Name = filepath.Base(abs)
	}
	return &p, nil
}

// PlanSelection converts the project's selection for the plan builder.
func (p *Project) PlanSelection() plan.Selection {
	return plan.Selection{
		Objects: map[objectstore.Type][]string{
			objectstore.TypeAnatomy:   p.Selection.Anatomy,
			objectstore.TypeRecording: p.Selection.Recordings,
			objectstore.TypeGroup:     p.Selection.Groups,
		},
		Operations: p.Selection.Operations,
	}
}

// Available lists the names of objects of type t present on disk, sorted.
func (p *Project) Available(t objectstore.Type) ([]string, error) {
	dir, ok := typeDirs[t]
	if !ok {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(p.Root, dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// ObjectPath returns the attribute file of h.
func (p *Project) ObjectPath(h objectstore.Handle) (string, error) {
	dir, ok := typeDirs[h.Type]
	if !ok {
		return "", fmt.Errorf("type %q has no object directory", h.Type)
	}
	if h.Name == "" || strings.ContainsAny(h.Name, `/\`) || h.Name == "." || h.Name == ".." {
		return "", fmt.Errorf("invalid object name %q", h.Name)
	}
	return filepath.Join(p.Root, dir, h.Name+".yaml"), nil
}

// NewStore returns an object store backed by the project's object files.
func (p *Project) NewStore() *objectstore.Store {
	var store *objectstore.Store
	store = objectstore.New(p.loader(func(ctx context.Context, h objectstore.Handle) (objectstore.Object, error) {
		return store.Get(ctx, h)
	}))
	return store
}

func (p *Project) loader(get objectstore.Loader) objectstore.Loader {
	return func(ctx context.Context, h objectstore.Handle) (objectstore.Object, error) {
		path, err := p.ObjectPath(h)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read object file: %w", err)
		}

		attrs := map[string]any{}
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return nil, fmt.Errorf("failed to parse object file %s: %w", path, err)
		}
		rec := objectstore.NewRecord(h.Name, h.Type, attrs)

		if h.Type != objectstore.TypeRecording {
			return rec, nil
		}
		anatomy, ok := attrs[AnatomyKey].(string)
		if !ok || anatomy == "" {
			return rec, nil
		}
		linked, err := get(ctx, objectstore.Handle{Name: anatomy, Type: objectstore.TypeAnatomy})
		if err != nil {
			return nil, fmt.Errorf("recording %s: anatomy %s: %w", h.Name, anatomy, err)
		}
		return rec.WithLink(linked), nil
	}
}
