package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
)

// ScriptExt is the extension of script-backed operations.
const ScriptExt = ".sh"

// Scripts binds the shell scripts of custom operation packages. Every
// <dir>/<pkg>/<name>.sh becomes operation <name>. A missing dir yields an
// empty catalog. When two packages ship the same name, the package that sorts
// first wins, matching the registry's package order.
func Scripts(dir string) (operation.Catalog, error) {
	catalog := operation.Catalog{}
	matches, err := filepath.Glob(filepath.Join(dir, "*", "*"+ScriptExt))
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation packages: %w", err)
	}
	sort.Strings(matches)
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ScriptExt)
		if _, dup := catalog[name]; dup {
			continue
		}
		catalog[name] = Script(path)
	}
	return catalog, nil
}

// Script returns an operation that runs the script at path with sh. Each
// argument is exported as BATCHPIPE_ARG_<NAME>; arguments bound to objects
// are exported as the object's name.
func Script(path string) operation.Func {
	return func(ctx context.Context, sc operation.StepContext) error {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("script %s not found", path)
			}
			return err
		}
		return runShell(ctx, sc, scriptEnv(sc.Args), path)
	}
}

func scriptEnv(args map[string]any) []string {
	env := make([]string, 0, len(args))
	for k, v := range args {
		if obj, ok := v.(objectstore.Object); ok {
			v = obj.Name()
		}
		env = append(env, fmt.Sprintf("BATCHPIPE_ARG_%s=%v", strings.ToUpper(k), v))
	}
	sort.Strings(env)
	return env
}

// Merge returns a catalog holding every entry of the given catalogs. Earlier
// catalogs win on name clashes.
func Merge(catalogs ...operation.Catalog) operation.Catalog {
	out := operation.Catalog{}
	for _, c := range catalogs {
		for name, fn := range c {
			if _, ok := out[name]; !ok {
				out[name] = fn
			}
		}
	}
	return out
}
