// Package builtin ships the operations compiled into batchpipe together with
// their registry tables.
//
// The tables are embedded so a bare installation has a working registry. Custom
// operation packages loaded from disk are merged after the built-in tables and
// cannot override them.
package builtin

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
	"batchpipe/internal/registry"
)

//go:embed tables/functions.csv tables/parameters.csv
var tables embed.FS

const (
	functionsTable  = "tables/functions.csv"
	parametersTable = "tables/parameters.csv"
)

// Catalog returns the built-in operations keyed by name.
func Catalog() operation.Catalog {
	return operation.Catalog{
		"describe":         Describe,
		"describe_anatomy": Describe,
		"describe_group":   Describe,
		"print_params":     PrintParams,
		"write_attributes": WriteAttributes,
		"shell":            Shell,
		"sleep":            Sleep,
		"fail":             Fail,
		"summary":          Summary,
	}
}

// Register adds the embedded tables to l. It must be called before any custom
// package is added so built-in names take precedence.
func Register(l *registry.Loader) error {
	defaults, err := readEmbedded(parametersTable)
	if err != nil {
		return err
	}
	defaultRows, err := registry.ReadDefaults(bytes.NewReader(defaults))
	if err != nil {
		return fmt.Errorf("builtin parameters: %w", err)
	}
	if err := l.AddDefaults("builtin", defaultRows); err != nil {
		return err
	}

	functions, err := readEmbedded(functionsTable)
	if err != nil {
		return err
	}
	rows, err := registry.ReadTable(bytes.NewReader(functions))
	if err != nil {
		return fmt.Errorf("builtin functions: %w", err)
	}
	return l.AddRows("builtin", rows)
}

func readEmbedded(name string) ([]byte, error) {
	data, err := tables.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded table %s: %w", name, err)
	}
	return data, nil
}

// Describe prints the object's name, type and attributes.
func Describe(ctx context.Context, sc operation.StepContext) error {
	if sc.Object == nil {
		return errors.New("describe needs an object")
	}
	fmt.Fprintf(sc.Stdout, "%s (%s)\n", sc.Object.Name(), sc.Object.Type().Label())
	writeSorted(sc, sc.Object.Attributes())
	return nil
}

// PrintParams prints the step's bound arguments.
func PrintParams(ctx context.Context, sc operation.StepContext) error {
	if sc.Object != nil {
		fmt.Fprintf(sc.Stdout, "%s:\n", sc.Object.Name())
	}
	writeSorted(sc, plainArgs(sc.Args))
	return nil
}

// Summary prints the run-level message and the output directory.
func Summary(ctx context.Context, sc operation.StepContext) error {
	fmt.Fprintln(sc.Stdout, sc.String("message"))
	if dir := sc.String("output_dir"); dir != "" {
		fmt.Fprintf(sc.Stdout, "results in %s\n", dir)
	}
	return nil
}

// WriteAttributes writes the object's attributes and the step's arguments to
// <output_dir>/<object>.yaml.
func WriteAttributes(ctx context.Context, sc operation.StepContext) error {
	if sc.Object == nil {
		return errors.New("write_attributes needs an object")
	}
	dir := sc.String("output_dir")
	if dir == "" {
		return errors.New("output_dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	doc := struct {
		Name       string         `yaml:"name"`
		Type       string         `yaml:"type"`
		Attributes map[string]any `yaml:"attributes"`
		Args       map[string]any `yaml:"args"`
	}{
		Name:       sc.Object.Name(),
		Type:       string(sc.Object.Type()),
		Attributes: sc.Object.Attributes(),
		Args:       plainArgs(sc.Args),
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	path := filepath.Join(dir, sc.Object.Name()+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write attributes: %w", err)
	}
	fmt.Fprintf(sc.Stdout, "wrote %s\n", path)
	return nil
}

// Shell runs the command argument through sh -c. The object's name and type
// are exported as BATCHPIPE_OBJECT and BATCHPIPE_OBJECT_TYPE.
func Shell(ctx context.Context, sc operation.StepContext) error {
	command := sc.String("command")
	if command == "" {
		return errors.New("command is empty")
	}
	return runShell(ctx, sc, nil, "-c", command)
}

func runShell(ctx context.Context, sc operation.StepContext, env []string, args ...string) error {
	cmd := exec.CommandContext(ctx, "sh", args...)
	cmd.Stdout = sc.Stdout
	cmd.Stderr = sc.Stderr
	cmd.Env = append(os.Environ(), env...)
	if sc.Object != nil {
		cmd.Env = append(cmd.Env,
			"BATCHPIPE_OBJECT="+sc.Object.Name(),
			"BATCHPIPE_OBJECT_TYPE="+string(sc.Object.Type()),
		)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// Sleep waits for the seconds argument or until ctx is done.
func Sleep(ctx context.Context, sc operation.StepContext) error {
	seconds, err := sc.Float("seconds")
	if err != nil {
		return err
	}
	if seconds < 0 {
		return fmt.Errorf("seconds must not be negative: %v", seconds)
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail always returns an error built from the reason argument.
func Fail(ctx context.Context, sc operation.StepContext) error {
	reason := sc.String("reason")
	if reason == "" {
		reason = "forced failure"
	}
	return errors.New(reason)
}

// plainArgs drops arguments bound to objects.
func plainArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if _, isObject := v.(objectstore.Object); isObject {
			continue
		}
		out[k] = v
	}
	return out
}

func writeSorted(sc operation.StepContext, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sc.Stdout, "  %s: %v\n", k, m[k])
	}
}
