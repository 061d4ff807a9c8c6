package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"batchpipe/internal/engine"
	"batchpipe/internal/ledger"
	"batchpipe/internal/params"
	"batchpipe/internal/plan"
	"batchpipe/internal/report"
	"batchpipe/internal/venue"
)

type runOptions struct {
	selectionFlags
	dryRun     bool
	pauseAfter int
	preset     string
	reportDir  string
}

func newRunCommand(app *App) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the project's selected operations",
		Long: `Build the plan from the project selection and walk it step by step.

A failing step is recorded and the run continues with the next step. Press
Ctrl+C to cancel: the running step finishes and every remaining step is
skipped. With --pause-after N the run pauses after N steps and resumes when
Enter is pressed.

Exit codes: 0 all steps done, 1 some steps errored, 2 fatal error,
130 cancelled.`,
		Example: `  batchpipe run -p ./study
  batchpipe run -p ./study --ops describe,print_params --recordings rec01
  batchpipe run -p ./study --all --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the plan without running it")
	cmd.Flags().IntVar(&opts.pauseAfter, "pause-after", 0, "pause after this many steps and wait for Enter")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "parameter preset, overriding the configured one")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", `report directory, overriding the configured one ("-" disables)`)
	return cmd
}

func (app *App) run(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()
	proj, p, err := app.buildPlan(&opts.selectionFlags)
	if err != nil {
		return err
	}
	if opts.dryRun {
		app.Printer.Plan(p)
		return nil
	}

	store, err := app.loadParameterStore(ctx, opts.preset)
	if err != nil {
		return err
	}
	isolated, err := app.isolatedVenue()
	if err != nil {
		return err
	}
	archiver, err := app.archiver(opts.reportDir)
	if err != nil {
		return err
	}

	pauser := &pauseAfter{after: opts.pauseAfter}
	eng := engine.New(p, engine.Options{
		Store: proj.NewStore(),
		Resolver: params.Resolver{
			Settings: params.Map(proj.Settings),
			Store:    store,
			Extras:   proj.Extras,
		},
		Concurrent: venue.NewPool(app.Config.Engine.PoolSize),
		Isolated:   isolated,
		Sink:       app.Printer,
		Observer:   engine.Observers{app.Printer, pauser},
		Logger:     app.Logger,
	})
	pauser.eng = eng

	app.Printer.RunHeader(proj.Name, eng.Snapshot().RunID, p)
	cancelled, stop := app.watchInterrupts(eng)
	defer stop()

	// An interrupt before Start cancels the idle run, which then refuses to start.
	snap, err := eng.Start(ctx)
	if err != nil && !snap.State.Terminal() {
		return err
	}
	var resume <-chan struct{}
	for snap.State == ledger.RunPaused {
		app.Printer.Paused(snap)
		if resume == nil {
			resume = readLines(cmd.InOrStdin())
		}
		select {
		case _, ok := <-resume:
			if !ok {
				eng.Cancel()
			}
		case <-cancelled:
		}
		if snap = eng.Snapshot(); snap.State != ledger.RunPaused {
			break
		}
		if snap, err = eng.Resume(ctx); err != nil {
			return err
		}
	}

	app.archive(ctx, archiver, report.FromSnapshot(snap, proj.Name))
	return exitErrorFor(snap)
}

// archive stores the run report. Archive failures are logged and do not change
// the exit code.
func (app *App) archive(ctx context.Context, archiver report.Multi, r report.Report) {
	locations, err := archiver.ArchiveAll(ctx, r)
	app.Printer.Archived(locations)
	if err != nil {
		app.Logger.Error("failed to archive run report", "run_id", r.RunID, "error", err)
	}
}

// watchInterrupts cancels eng on the first interrupt. The returned channel is
// closed once cancellation was requested; stop releases the watcher.
func (app *App) watchInterrupts(eng *engine.Engine) (<-chan struct{}, func()) {
	sigs := app.Interrupts
	release := func() {}
	if sigs == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		sigs = ch
		release = func() { signal.Stop(ch) }
	}

	cancelled := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			eng.Cancel()
			app.Logger.Warn("interrupt received, cancelling after the current step")
			close(cancelled)
		case <-quit:
		}
	}()
	return cancelled, func() {
		close(quit)
		release()
	}
}

// readLines delivers one value per input line and closes the channel at EOF.
func readLines(r io.Reader) <-chan struct{} {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- struct{}{}
		}
	}()
	return lines
}

// pauseAfter pauses the engine once a number of steps have finished.
type pauseAfter struct {
	engine.NopObserver
	eng      *engine.Engine
	after    int
	finished int
}

func (p *pauseAfter) OnStepFinished(step plan.Step, status ledger.StepStatus, err error) {
	p.finished++
	if p.after > 0 && p.finished == p.after && p.eng != nil {
		p.eng.Pause()
	}
}
