// Package cli implements the batchpipe command-line interface.
//
// Commands are built with Cobra. Every command receives an [App] holding its
// dependencies, so tests can swap the printer, the worker spawner or the
// interrupt source without touching the process environment.
//
// Key types:
//   - [App] bundles configuration, logger, printer and operation catalog
//   - [ExecuteResult] carries the exit code of one invocation
//   - [ExitError] lets commands return exit codes instead of calling os.Exit
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"batchpipe/internal/builtin"
	"batchpipe/internal/config"
	"batchpipe/internal/operation"
	"batchpipe/internal/output"
	"batchpipe/internal/report"
	"batchpipe/internal/venue"
)

// App holds the dependencies shared by all commands.
type App struct {
	Config  *config.Config
	Printer *output.Printer
	Logger  *slog.Logger

	// Catalog holds every operation implementation the registry can bind.
	Catalog operation.Catalog

	// Spawner starts isolated workers. Nil re-executes the worker binary.
	Spawner venue.Spawner

	// Archiver replaces the configured report archivers when non-nil.
	Archiver report.Archiver

	// Interrupts requests cooperative cancellation. Nil listens for SIGINT.
	Interrupts <-chan os.Signal

	// Outcome receives the worker's outcome. Nil means file descriptor 3.
	Outcome io.Writer
}

// NewApp builds the production dependencies for cfg.
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := output.NewLogger(cfg.Output.LogLevel, cfg.Output.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}

	printer := output.NewPrinter()
	if !cfg.Output.Color {
		printer.DisableColor()
	}

	catalog := builtin.Catalog()
	if dir := cfg.Registry.CustomDir; dir != "" {
		scripts, err := builtin.Scripts(dir)
		if err != nil {
			return nil, err
		}
		catalog = builtin.Merge(catalog, scripts)
	}

	return &App{
		Config:  cfg,
		Printer: printer,
		Logger:  logger,
		Catalog: catalog,
	}, nil
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "batchpipe",
		Short: "Run batch analysis operations over a project",
		Long: `batchpipe walks a plan of (object, operation) steps built from a project
selection: anatomy first, then recordings, then groups, then object-less
operations. Step failures are recorded and the run continues.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCommand(app),
		newPlanCommand(app),
		newOperationsCommand(app),
		newReportCommand(app),
		newWorkerCommand(app),
	)
	return rootCmd
}

// ExecuteResult is the outcome of one CLI invocation.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// RunWithConfig runs the CLI with args against cfg and returns the exit code
// instead of exiting.
func RunWithConfig(cfg *config.Config, args []string) ExecuteResult {
	app, err := NewApp(cfg)
	if err != nil {
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return runApp(app, args)
}

func runApp(app *App, args []string) ExecuteResult {
	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return ExecuteResult{}
}

// Execute loads configuration, runs the CLI and exits the process.
func Execute() {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// Worker processes inherit the environment and must read the same file.
	if used := loader.ConfigFileUsed(); used != "" {
		os.Setenv(config.ConfigPathEnv, used)
	}

	result := RunWithConfig(cfg, os.Args[1:])
	if result.Err != nil {
		if _, ok := IsExitError(result.Err); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", result.Err)
		}
	}
	os.Exit(result.ExitCode)
}
