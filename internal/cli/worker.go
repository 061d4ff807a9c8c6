package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"batchpipe/internal/venue"
)

// newWorkerCommand is the entrypoint of isolated worker processes. It reads
// one job from stdin, runs it with stdout and stderr attached to the parent's
// relay and writes the outcome to file descriptor 3.
func newWorkerCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one isolated operation (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome := app.Outcome
			if outcome == nil {
				f := os.NewFile(venue.OutcomeFD, "outcome")
				if f == nil {
					return NewExitError(1)
				}
				defer f.Close()
				outcome = f
			}
			return serveWorker(cmd, app, outcome)
		},
	}
}

func serveWorker(cmd *cobra.Command, app *App, outcome io.Writer) error {
	err := venue.Serve(cmd.Context(), app.Catalog, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), outcome)
	if err != nil {
		app.Logger.Error("worker could not report outcome", "error", err)
		return NewExitError(1)
	}
	return nil
}
