package registry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
)

// Loader assembles a [Registry] from one or more table pairs.
//
// Tables are merged in the order they are added. When two tables declare the
// same operation or parameter name, the first one wins and the later row is
// logged and skipped. Every operation row must have a callable in the catalog
// the loader was created with.
type Loader struct {
	catalog operation.Catalog
	logger  *slog.Logger

	specs    []operation.Spec
	names    map[string]string // operation name -> source
	defaults map[string]any
	params   map[string]DefaultRow
}

// NewLoader creates a Loader binding rows against catalog. A nil logger
// discards output.
func NewLoader(catalog operation.Catalog, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{
		catalog:  catalog,
		logger:   logger,
		names:    make(map[string]string),
		defaults: make(map[string]any),
		params:   make(map[string]DefaultRow),
	}
}

// AddRows converts and adds operation rows. source is used in log and error
// messages only.
func (l *Loader) AddRows(source string, rows []Row) error {
	for _, row := range rows {
		if prev, dup := l.names[row.Name]; dup {
			l.logger.Warn("skipping duplicate operation",
				"operation", row.Name, "source", source, "first_source", prev)
			continue
		}

		spec, err := l.specFromRow(row)
		if err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		l.names[row.Name] = source
		l.specs = append(l.specs, spec)
	}
	return nil
}

func (l *Loader) specFromRow(row Row) (operation.Spec, error) {
	target, err := objectstore.ParseType(row.Target)
	if err != nil {
		return operation.Spec{}, fmt.Errorf("operation %s: %w", row.Name, err)
	}
	affinity, err := operation.ParseAffinity(row.Affinity)
	if err != nil {
		return operation.Spec{}, fmt.Errorf("operation %s: %w", row.Name, err)
	}
	fn, ok := l.catalog[row.Name]
	if !ok || fn == nil {
		return operation.Spec{}, fmt.Errorf("%w: %s", ErrUnboundOperation, row.Name)
	}

	spec := operation.Spec{
		Name:     row.Name,
		Target:   target,
		Params:   row.Params,
		Affinity: affinity,
		Group:    row.Group,
		Alias:    row.Alias,
		Func:     fn,
	}
	if err := spec.Validate(); err != nil {
		return operation.Spec{}, err
	}
	return spec, nil
}

// AddDefaults adds parameter default rows. Default values are decoded as YAML
// scalars, so "40" becomes an int and "[1, 2]" a list. Rows with an empty
// default declare no default.
func (l *Loader) AddDefaults(source string, rows []DefaultRow) error {
	for _, row := range rows {
		if _, dup := l.params[row.Name]; dup {
			l.logger.Warn("skipping duplicate parameter", "parameter", row.Name, "source", source)
			continue
		}
		l.params[row.Name] = row
		if row.Default == "" {
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(row.Default), &v); err != nil {
			return fmt.Errorf("%s: parameter %s: invalid default %q: %w", source, row.Name, row.Default, err)
		}
		l.defaults[row.Name] = v
	}
	return nil
}

// AddFiles reads an operations table and an optional defaults table from disk.
// An empty defaultsPath skips the defaults table.
func (l *Loader) AddFiles(tablePath, defaultsPath string) error {
	rows, err := ReadTableFile(tablePath)
	if err != nil {
		return err
	}
	if defaultsPath != "" {
		defaults, err := ReadDefaultsFile(defaultsPath)
		if err != nil {
			return err
		}
		if err := l.AddDefaults(defaultsPath, defaults); err != nil {
			return err
		}
	}
	return l.AddRows(tablePath, rows)
}

// AddPackageDir merges custom packages found under dir. Each package is a
// subdirectory <pkg> holding <pkg>_functions.csv and optionally
// <pkg>_parameters.csv. Subdirectories without a functions table are ignored.
// Packages are read in lexical order.
func (l *Loader) AddPackageDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read package directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, pkg := range names {
		table := filepath.Join(dir, pkg, pkg+"_functions.csv")
		if _, err := os.Stat(table); err != nil {
			l.logger.Debug("no functions table in package", "package", pkg)
			continue
		}
		defaults := filepath.Join(dir, pkg, pkg+"_parameters.csv")
		if _, err := os.Stat(defaults); err != nil {
			defaults = ""
		}
		if err := l.AddFiles(table, defaults); err != nil {
			return fmt.Errorf("package %s: %w", pkg, err)
		}
		l.logger.Info("loaded operation package", "package", pkg)
	}
	return nil
}

// Parameter returns the defaults-table metadata for a parameter name.
func (l *Loader) Parameter(name string) (DefaultRow, bool) {
	row, ok := l.params[name]
	return row, ok
}

// Registry builds the registry. Each spec receives the defaults of the
// parameters it declares.
func (l *Loader) Registry() (*Registry, error) {
	specs := make([]operation.Spec, len(l.specs))
	for i, s := range l.specs {
		var defaults map[string]any
		for _, p := range s.Params {
			if v, ok := l.defaults[p]; ok {
				if defaults == nil {
					defaults = make(map[string]any)
				}
				defaults[p] = v
			}
		}
		s.Defaults = defaults
		specs[i] = s
	}
	return New(specs...)
}
