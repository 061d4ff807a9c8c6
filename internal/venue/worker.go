package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"batchpipe/internal/operation"
)

// Serve is the worker-process side of [Isolated]. It reads a [Job] from stdin,
// runs the named operation from catalog with stdout and stderr as its output,
// and writes the [Outcome] to outcome.
//
// Operation failures are reported through the outcome and do not make Serve
// fail. Serve returns an error only when no outcome could be written.
func Serve(ctx context.Context, catalog operation.Catalog, stdin io.Reader, stdout, stderr, outcome io.Writer) error {
	var job Job
	if err := json.NewDecoder(stdin).Decode(&job); err != nil {
		return writeOutcome(outcome, Outcome{Error: fmt.Sprintf("decode job: %v", err)})
	}

	fn, ok := catalog[job.Operation]
	if !ok {
		return writeOutcome(outcome, Outcome{Error: fmt.Sprintf("%v: %s", operation.ErrUnknownOperation, job.Operation)})
	}

	spec := operation.Spec{Name: job.Operation, Func: fn}
	if err := Invoke(ctx, spec, job.StepContext(stdout, stderr)); err != nil {
		return writeOutcome(outcome, Outcome{Error: err.Error()})
	}
	return writeOutcome(outcome, Outcome{OK: true})
}

func writeOutcome(w io.Writer, out Outcome) error {
	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}
