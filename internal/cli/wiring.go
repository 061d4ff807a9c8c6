package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"batchpipe/internal/builtin"
	"batchpipe/internal/objectstore"
	"batchpipe/internal/params"
	"batchpipe/internal/plan"
	"batchpipe/internal/project"
	"batchpipe/internal/registry"
	"batchpipe/internal/report"
	"batchpipe/internal/venue"
)

// selectionFlags are shared by commands that build a plan.
type selectionFlags struct {
	project    string
	operations []string
	anatomy    []string
	recordings []string
	groups     []string
	all        bool
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.project, "project", "p", ".", "project directory")
	cmd.Flags().StringSliceVar(&f.operations, "ops", nil, "operations to run, overriding the project selection")
	cmd.Flags().StringSliceVar(&f.anatomy, "anatomy", nil, "anatomy objects, overriding the project selection")
	cmd.Flags().StringSliceVar(&f.recordings, "recordings", nil, "recordings, overriding the project selection")
	cmd.Flags().StringSliceVar(&f.groups, "groups", nil, "groups, overriding the project selection")
	cmd.Flags().BoolVar(&f.all, "all", false, "select every object found in the project directory, except for types named explicitly")
}

// selection merges the flags over the project's own selection.
func (f *selectionFlags) selection(proj *project.Project) (plan.Selection, error) {
	sel := proj.PlanSelection()
	if len(f.operations) > 0 {
		sel.Operations = f.operations
	}

	overrides := map[objectstore.Type][]string{
		objectstore.TypeAnatomy:   f.anatomy,
		objectstore.TypeRecording: f.recordings,
		objectstore.TypeGroup:     f.groups,
	}
	for t, names := range overrides {
		// Explicit names for a type win over --all.
		if f.all && len(names) == 0 {
			available, err := proj.Available(t)
			if err != nil {
				return plan.Selection{}, err
			}
			names = available
		}
		if len(names) > 0 {
			sel.Objects[t] = names
		}
	}
	return sel, nil
}

// buildPlan loads the project and registry and expands the selection.
func (app *App) buildPlan(f *selectionFlags) (*project.Project, *plan.Plan, error) {
	proj, err := project.Load(f.project)
	if err != nil {
		return nil, nil, err
	}
	reg, err := app.loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	sel, err := f.selection(proj)
	if err != nil {
		return nil, nil, err
	}
	p, err := plan.Build(sel, reg)
	if err != nil {
		return nil, nil, err
	}
	return proj, p, nil
}

// loadRegistry merges the built-in table, the configured extra table and the
// custom package directory, in that order.
func (app *App) loadRegistry() (*registry.Registry, error) {
	cfg := app.Config.Registry
	l := registry.NewLoader(app.Catalog, app.Logger)
	if err := builtin.Register(l); err != nil {
		return nil, err
	}
	if cfg.FunctionsPath != "" {
		if err := l.AddFiles(cfg.FunctionsPath, cfg.ParametersPath); err != nil {
			return nil, err
		}
	}
	if cfg.CustomDir != "" {
		if info, err := os.Stat(cfg.CustomDir); err == nil && info.IsDir() {
			if err := l.AddPackageDir(cfg.CustomDir); err != nil {
				return nil, err
			}
		}
	}
	return l.Registry()
}

// loadParameterStore opens the configured parameter store. It returns nil
// when none is configured. An empty preset uses the configured one.
func (app *App) loadParameterStore(ctx context.Context, preset string) (params.Lookup, error) {
	cfg := app.Config.Params
	if preset == "" {
		preset = cfg.Preset
	}

	switch {
	case cfg.Path != "":
		store, err := params.LoadFile(cfg.Path, preset)
		if err != nil {
			return nil, err
		}
		app.Logger.Info("parameter store loaded", "path", cfg.Path, "preset", store.Preset())
		return store, nil

	case cfg.DatabaseURL != "":
		db, err := params.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		store, err := params.LoadPostgres(ctx, db, preset)
		if err != nil {
			return nil, err
		}
		app.Logger.Info("parameter store loaded", "source", "postgres", "preset", store.Preset(), "parameters", store.Len())
		return store, nil
	}
	return nil, nil
}

// isolatedVenue returns the venue for isolated operations. Workers are started
// by re-executing the configured binary, or this executable, with the hidden
// worker subcommand.
func (app *App) isolatedVenue() (venue.Venue, error) {
	spawner := app.Spawner
	if spawner == nil {
		path := app.Config.Worker.BinaryPath
		if path == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("failed to locate worker binary: %w", err)
			}
			path = exe
		}
		spawner = &venue.ExecSpawner{Path: path, Args: []string{"worker"}}
	}
	return venue.NewIsolated(spawner, app.Printer, app.Config.Engine.RelayBuffer).WithLogger(app.Logger), nil
}

// archiver returns the report archivers for this run. dir overrides the
// configured report directory; "-" disables local archiving.
func (app *App) archiver(dir string) (report.Multi, error) {
	if app.Archiver != nil {
		return report.Multi{app.Archiver}, nil
	}

	cfg := app.Config.Report
	if dir == "" {
		dir = cfg.Dir
	}
	var archivers report.Multi
	if dir != "" && dir != "-" {
		archivers = append(archivers, report.NewFileArchiver(dir))
	}
	if cfg.MinIO.Enabled() {
		mcfg := report.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Region:    cfg.MinIO.Region,
			Prefix:    cfg.MinIO.Prefix,
		}
		client, err := report.NewMinIOClient(mcfg)
		if err != nil {
			return nil, err
		}
		archivers = append(archivers, report.NewMinIOArchiver(client, mcfg))
	}
	return archivers, nil
}
