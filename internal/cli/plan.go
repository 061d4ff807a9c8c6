package cli

import (
	"github.com/spf13/cobra"
)

func newPlanCommand(app *App) *cobra.Command {
	flags := &selectionFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the steps a run would execute",
		Long: `Print the plan built from the project selection without loading any
object or running any operation. Steps are grouped by phase in execution
order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := app.buildPlan(flags)
			if err != nil {
				return err
			}
			app.Printer.Plan(p)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
