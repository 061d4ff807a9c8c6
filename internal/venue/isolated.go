package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
	"batchpipe/internal/relay"
)

// ObjectPayload is the detached form of an object sent to a worker process.
type ObjectPayload struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Job is the request a worker process reads from stdin.
type Job struct {
	Operation string         `json:"operation"`
	Object    *ObjectPayload `json:"object,omitempty"`
	Args      map[string]any `json:"args"`

	// ObjectArgs names arguments bound to the step's object. They are sent
	// without a value and rebound to the detached object by the worker.
	ObjectArgs []string `json:"object_args,omitempty"`
}

// Outcome is the result a worker process reports.
type Outcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewJob builds the job for one step.
func NewJob(spec operation.Spec, sc operation.StepContext) Job {
	job := Job{Operation: spec.Name, Args: make(map[string]any, len(sc.Args))}
	if sc.Object != nil {
		job.Object = &ObjectPayload{
			Name:       sc.Object.Name(),
			Type:       string(sc.Object.Type()),
			Attributes: sc.Object.Attributes(),
		}
	}
	for k, v := range sc.Args {
		if _, isObject := v.(objectstore.Object); isObject {
			job.ObjectArgs = append(job.ObjectArgs, k)
			continue
		}
		job.Args[k] = v
	}
	sort.Strings(job.ObjectArgs)
	return job
}

// StepContext rebuilds the step context on the worker side.
func (j Job) StepContext(stdout, stderr io.Writer) operation.StepContext {
	sc := operation.StepContext{Args: make(map[string]any, len(j.Args)+len(j.ObjectArgs)), Stdout: stdout, Stderr: stderr}
	for k, v := range j.Args {
		sc.Args[k] = v
	}
	if j.Object != nil {
		obj := objectstore.NewRecord(j.Object.Name, objectstore.Type(j.Object.Type), j.Object.Attributes)
		sc.Object = obj
		for _, k := range j.ObjectArgs {
			sc.Args[k] = obj
		}
	}
	return sc
}

// Process is a started or startable worker process.
//
// Stdout and Stderr must be readable before Start so a relay can attach first.
// They reach EOF once the process and anything it spawned close them.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Start() error
	Wait() (Outcome, error)
}

// Spawner prepares worker processes.
type Spawner interface {
	Spawn(ctx context.Context, job Job) (Process, error)
}

// Isolated runs operations in worker processes. Worker output is forwarded to
// the sink through a [relay.Relay] that is attached before the worker starts.
type Isolated struct {
	spawner Spawner
	sink    relay.Sink
	buffer  int
	logger  *slog.Logger
}

// NewIsolated creates an isolated venue. buffer bounds the relay's line queue.
func NewIsolated(spawner Spawner, sink relay.Sink, buffer int) *Isolated {
	return &Isolated{
		spawner: spawner,
		sink:    sink,
		buffer:  buffer,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the logger that receives relay failures.
func (v *Isolated) WithLogger(logger *slog.Logger) *Isolated {
	if logger != nil {
		v.logger = logger
	}
	return v
}

// Run implements [Venue].
//
// Run blocks until the worker exits and every output line has been forwarded.
// There is no timeout: a worker that never exits blocks Run forever.
func (v *Isolated) Run(ctx context.Context, spec operation.Spec, sc operation.StepContext) error {
	job := NewJob(spec, sc)
	if _, err := json.Marshal(job); err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	proc, err := v.spawner.Spawn(ctx, job)
	if err != nil {
		return &SpawnError{Venue: string(operation.Isolated), Err: err}
	}

	r := relay.Attach(proc.Stdout(), proc.Stderr(), v.sink, v.buffer)
	if err := proc.Start(); err != nil {
		_ = r.Wait()
		return &SpawnError{Venue: string(operation.Isolated), Err: err}
	}

	// A relay failure loses output, not the step: the outcome decides.
	if err := r.Wait(); err != nil {
		v.logger.Warn("worker output relay failed", "operation", spec.Name, "error", err)
	}
	outcome, waitErr := proc.Wait()

	switch {
	case outcome.OK:
		return nil
	case outcome.Error != "":
		return errors.New(outcome.Error)
	case waitErr != nil:
		return fmt.Errorf("worker failed: %w", waitErr)
	}
	return errors.New("worker reported no outcome")
}
