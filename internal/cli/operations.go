package cli

import (
	"github.com/spf13/cobra"

	"batchpipe/internal/objectstore"
)

func newOperationsCommand(app *App) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List registered operations",
		Long: `List every operation in the registry with its target type, affinity and
declared parameters. The registry merges the built-in table, the configured
extra table and the custom operation packages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := app.loadRegistry()
			if err != nil {
				return err
			}
			if target == "" {
				app.Printer.Operations(reg.All())
				return nil
			}
			t, err := objectstore.ParseType(target)
			if err != nil {
				return err
			}
			app.Printer.Operations(reg.ForTarget(t))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "only list operations targeting this object type")
	return cmd
}
