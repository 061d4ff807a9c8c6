// Package engine walks a plan one step at a time.
//
// The [Engine] loads each step's object through the object store, resolves the
// operation's arguments, runs the operation in the venue its affinity selects
// and records the outcome in the run ledger. Steps never run concurrently with
// each other. Per-step failures are recorded and the walk continues; only an
// unusable plan step or a venue that cannot be obtained aborts the run.
//
// Pause and cancel are cooperative: both are checked between steps, never while
// a step runs. Progress is reported to an [Observer] on the walking goroutine,
// and [Engine.Snapshot] may be read from any goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"batchpipe/internal/ledger"
	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
	"batchpipe/internal/params"
	"batchpipe/internal/plan"
	"batchpipe/internal/relay"
	"batchpipe/internal/venue"
)

// ErrOperationExecution matches every [ExecutionError].
var ErrOperationExecution = errors.New("operation execution failed")

// Control errors returned when a transition is not allowed in the current state.
var (
	ErrNotIdle     = errors.New("engine is not idle")
	ErrNotPaused   = errors.New("engine is not paused")
	ErrNotFinished = errors.New("engine has not finished")
)

// ExecutionError wraps whatever an operation returned or panicked with.
type ExecutionError struct {
	Object    string
	Operation string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("operation %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("operation %s on %s: %v", e.Operation, e.Object, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOperationExecution) succeed.
func (e *ExecutionError) Is(target error) bool { return target == ErrOperationExecution }

// Options configures an [Engine]. Store is required; every other field has a
// usable zero value.
type Options struct {
	Store    *objectstore.Store
	Resolver params.Resolver

	// Venues per affinity. Inline defaults to [venue.Inline], Concurrent to a
	// pool of size 1. A nil Isolated venue makes isolated steps fatal.
	Inline     venue.Venue
	Concurrent venue.Venue
	Isolated   venue.Venue

	// Sink receives output written by inline and concurrent operations.
	Sink relay.Sink

	Observer Observer
	Logger   *slog.Logger
}

// Engine executes one plan. Use [New] to create one.
type Engine struct {
	plan     *plan.Plan
	store    *objectstore.Store
	resolver params.Resolver
	venues   map[operation.Affinity]venue.Venue
	sink     relay.Sink
	observer Observer
	logger   *slog.Logger

	// mu is held for the duration of a walk.
	mu     sync.Mutex
	ledger *ledger.Ledger
	phase  objectstore.Type

	cancelRequested atomic.Bool
	pauseRequested  atomic.Bool
}

// New creates an idle engine for p.
func New(p *plan.Plan, opts Options) *Engine {
	if opts.Inline == nil {
		opts.Inline = venue.Inline{}
	}
	if opts.Concurrent == nil {
		opts.Concurrent = venue.NewPool(1)
	}
	if opts.Sink == nil {
		opts.Sink = relay.Discard
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	venues := map[operation.Affinity]venue.Venue{
		operation.Inline:     opts.Inline,
		operation.Concurrent: opts.Concurrent,
	}
	if opts.Isolated != nil {
		venues[operation.Isolated] = opts.Isolated
	}

	return &Engine{
		plan:     p,
		store:    opts.Store,
		resolver: opts.Resolver,
		venues:   venues,
		sink:     opts.Sink,
		observer: opts.Observer,
		logger:   opts.Logger,
		ledger:   ledger.New(p),
	}
}

// Snapshot returns the latest published ledger view.
func (e *Engine) Snapshot() *ledger.Snapshot {
	return e.ledger.Snapshot()
}

// Start runs the plan from the beginning. It blocks until the run completes,
// pauses, is cancelled or fails fatally, and returns the ledger at that point.
// The returned error is only non-nil when the engine was not idle.
func (e *Engine) Start(ctx context.Context) (*ledger.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.State() != ledger.RunIdle {
		return e.ledger.Snapshot(), ErrNotIdle
	}
	e.ledger.SetState(ledger.RunRunning)
	e.logger.Info("run started", "run_id", e.ledger.RunID(), "steps", e.plan.Len())
	e.walk(ctx)
	return e.ledger.Snapshot(), nil
}

// Resume continues a paused run from the step after the last one finished.
func (e *Engine) Resume(ctx context.Context) (*ledger.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.State() != ledger.RunPaused {
		return e.ledger.Snapshot(), ErrNotPaused
	}
	e.ledger.SetState(ledger.RunRunning)
	e.logger.Info("run resumed", "run_id", e.ledger.RunID(), "step", e.ledger.Current())
	e.walk(ctx)
	return e.ledger.Snapshot(), nil
}

// Pause asks the walk to stop after the current step. Safe to call from any
// goroutine.
func (e *Engine) Pause() {
	e.pauseRequested.Store(true)
}

// Cancel asks the walk to stop after the current step and skip the rest. Safe
// to call from any goroutine. An idle or paused run is cancelled immediately.
func (e *Engine) Cancel() {
	e.cancelRequested.Store(true)

	if !e.mu.TryLock() {
		return
	}
	defer e.mu.Unlock()
	if s := e.ledger.State(); s == ledger.RunIdle || s == ledger.RunPaused {
		e.finishCancelled()
	}
}

// Restart resets a finished run so it can be started again. Cached objects are
// dropped so changes on disk are picked up.
//
// Requests made before Restart takes the lock belong to the finished run and
// are cleared. A Cancel that arrives while Restart holds the lock applies to
// the reset run, which is then cancelled before Restart returns.
func (e *Engine) Restart() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.State().Terminal() {
		return ErrNotFinished
	}
	e.cancelRequested.Store(false)
	e.pauseRequested.Store(false)
	e.phase = ""
	e.store.Purge()
	e.ledger.Reset()
	e.logger.Info("run reset", "run_id", e.ledger.RunID())

	if e.cancelRequested.Load() {
		e.finishCancelled()
	}
	return nil
}

func (e *Engine) walk(ctx context.Context) {
	for e.ledger.Current() < e.plan.Len() {
		if e.cancelRequested.Load() || ctx.Err() != nil {
			e.finishCancelled()
			return
		}
		if e.pauseRequested.Swap(false) {
			e.ledger.SetState(ledger.RunPaused)
			e.logger.Info("run paused", "run_id", e.ledger.RunID(), "step", e.ledger.Current())
			return
		}

		step := e.plan.Step(e.ledger.Current())
		if fatal := e.runStep(ctx, step); fatal != nil {
			e.finishFatal(fatal)
			return
		}
		e.ledger.Advance()
	}

	e.ledger.SetState(ledger.RunCompleted)
	e.finish()
}

// runStep runs one step and records its outcome. The returned error is
// non-nil only when the run must abort.
func (e *Engine) runStep(ctx context.Context, step plan.Step) error {
	if phase := step.Phase(); phase != e.phase {
		e.phase = phase
		e.logger.Debug("phase changed", "run_id", e.ledger.RunID(), "phase", phase)
		e.observer.OnPhaseChanged(phase)
	}

	log := e.logger.With(
		"run_id", e.ledger.RunID(),
		"step", step.Index,
		"object", step.ObjectName(),
		"operation", step.Operation.Name,
		"venue", string(step.Operation.Affinity),
	)

	e.ledger.MarkRunning(step.Index)
	e.observer.OnStepStarted(step)
	log.Debug("step started")

	stepErr, fatal := e.execute(ctx, step)
	if fatal != nil {
		stepErr = fatal
	}

	status := e.ledger.Finish(step.Index, stepErr)
	if stepErr != nil {
		log.Warn("step errored", "error", stepErr)
	} else {
		log.Debug("step done")
	}
	e.observer.OnStepFinished(step, status, stepErr)
	return fatal
}

// execute returns a per-step error, or a fatal error that aborts the run.
func (e *Engine) execute(ctx context.Context, step plan.Step) (stepErr, fatal error) {
	spec := step.Operation
	if spec.Func == nil {
		return nil, fmt.Errorf("%w: %s has no implementation", operation.ErrUnknownOperation, spec.Name)
	}
	v, ok := e.venues[spec.Affinity]
	if !ok {
		return nil, &venue.SpawnError{Venue: string(spec.Affinity), Err: errors.New("no venue configured")}
	}

	var obj objectstore.Object
	if step.Object != nil {
		var err error
		if obj, err = e.store.Get(ctx, *step.Object); err != nil {
			return err, nil
		}
	}

	args, err := e.resolver.Resolve(spec, obj)
	if err != nil {
		return err, nil
	}

	stdout := relay.Writer(e.sink, relay.Stdout)
	stderr := relay.Writer(e.sink, relay.Stderr)
	err = v.Run(ctx, spec, operation.StepContext{
		Object: obj,
		Args:   args,
		Stdout: stdout,
		Stderr: stderr,
	})
	stdout.Flush()
	stderr.Flush()

	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, venue.ErrVenueSpawn):
		return nil, err
	}
	return &ExecutionError{Object: step.ObjectName(), Operation: spec.Name, Err: err}, nil
}

func (e *Engine) finishCancelled() {
	e.ledger.SkipRemaining()
	e.ledger.SetState(ledger.RunCancelled)
	e.finish()
}

func (e *Engine) finishFatal(err error) {
	e.ledger.SetFatal(err)
	e.logger.Error("run aborted", "run_id", e.ledger.RunID(), "error", err)
	e.finish()
}

func (e *Engine) finish() {
	snap := e.ledger.Snapshot()
	c := snap.Counts()
	e.logger.Info("run finished",
		"run_id", snap.RunID,
		"state", string(snap.State),
		"done", c.Done,
		"errored", c.Errored,
		"skipped", c.Skipped,
	)
	e.observer.OnRunFinished(snap)
}
