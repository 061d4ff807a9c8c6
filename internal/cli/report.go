package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"batchpipe/internal/report"
)

func newReportCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "report [file]",
		Short: "Show an archived run report",
		Long: `Show an archived run report. Without a file, the most recent report in
the configured report directory is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				latest, err := latestReport(app.Config.Report.Dir)
				if err != nil {
					return err
				}
				path = latest
			}

			r, err := report.ReadFile(path)
			if err != nil {
				return err
			}
			app.Printer.Report(r)
			return nil
		},
	}
}

// latestReport returns the most recently modified report in dir.
func latestReport(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("no report directory configured")
	}
	matches, err := filepath.Glob(filepath.Join(dir, "run-*.yaml"))
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest, latestMod = m, mod
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no reports found in %s", dir)
	}
	return latest, nil
}
