package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchpipe/internal/builtin"
	"batchpipe/internal/config"
	"batchpipe/internal/ledger"
)

func TestPlanCommand(t *testing.T) {
	var buf bytes.Buffer
	app, _, _ := newTestApp(t, &buf)
	root := createProject(t, studyProject)

	err := execute(app, strings.NewReader(""), "plan", "-p", root, "--ops", "describe,describe_group", "--recordings", "rec02")

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Recording (1)")
	assert.Contains(t, out, "1  rec02/describe")
	assert.Contains(t, out, "Group (1)")
	assert.Contains(t, out, "2  all/describe_group")
	assert.NotContains(t, out, "rec01")
}

func TestPlanCommand_All(t *testing.T) {
	var buf bytes.Buffer
	app, _, _ := newTestApp(t, &buf)
	root := createProject(t, studyProject)
	writeFile(t, filepath.Join(root, "recordings", "rec03.yaml"), "sfreq: 250\n")

	err := execute(app, strings.NewReader(""), "plan", "-p", root, "--ops", "describe", "--all")

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Recording (3)")
	assert.Contains(t, out, "rec03/describe")
}

func TestPlanCommand_ExplicitNamesBeatAll(t *testing.T) {
	var buf bytes.Buffer
	app, _, _ := newTestApp(t, &buf)
	root := createProject(t, studyProject)
	writeFile(t, filepath.Join(root, "recordings", "rec03.yaml"), "sfreq: 250\n")

	err := execute(app, strings.NewReader(""), "plan", "-p", root,
		"--ops", "describe,describe_anatomy", "--all", "--recordings", "rec03")

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Recording (1)")
	assert.Contains(t, out, "rec03/describe")
	assert.NotContains(t, out, "rec01/describe")
	assert.Contains(t, out, "fs01/describe_anatomy", "--all still covers the other types")
}

func TestPlanCommand_Empty(t *testing.T) {
	var buf bytes.Buffer
	app, _, _ := newTestApp(t, &buf)
	root := createProject(t, "name: empty\n")

	require.NoError(t, execute(app, strings.NewReader(""), "plan", "-p", root))

	assert.Contains(t, buf.String(), "plan is empty")
}

func TestOperationsCommand(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		contains    []string
		notContains []string
		wantErr     string
	}{
		{
			name:     "all operations",
			args:     []string{"operations"},
			contains: []string{"describe", "print_params", "summary", "lowpass, highpass", "isolated"},
		},
		{
			name:        "filtered by target",
			args:        []string{"ops", "--target", "anatomy"},
			contains:    []string{"describe_anatomy"},
			notContains: []string{"print_params", "summary"},
		},
		{
			name:    "unknown target",
			args:    []string{"operations", "--target", "planet"},
			wantErr: "planet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			app, _, _ := newTestApp(t, &buf)

			err := execute(app, strings.NewReader(""), tt.args...)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestOperationsCommand_CustomPackage(t *testing.T) {
	var buf bytes.Buffer
	app, _, _ := newTestApp(t, &buf)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "meg", "meg_functions.csv"),
		"name;target;params;affinity;group;alias\nmeg_filter;recording;lowpass;isolated;Filter;MEG filter\n")
	writeFile(t, filepath.Join(dir, "meg", "meg_filter.sh"), "echo filtering $BATCHPIPE_OBJECT\n")
	scripts, err := builtin.Scripts(dir)
	require.NoError(t, err)
	app.Catalog = builtin.Merge(app.Catalog, scripts)
	app.Config.Registry.CustomDir = dir

	require.NoError(t, execute(app, strings.NewReader(""), "operations", "--target", "recording"))

	assert.Contains(t, buf.String(), "meg_filter")
}

func TestReportCommand(t *testing.T) {
	var buf bytes.Buffer
	app, _, _ := newTestApp(t, &buf)
	app.Archiver = nil
	app.Config.Report.Dir = t.TempDir()
	root := createProject(t, studyProject)

	require.NoError(t, execute(app, strings.NewReader(""), "run", "-p", root, "--ops", "describe,fail"))
	path, err := latestReport(app.Config.Report.Dir)
	require.NoError(t, err)

	t.Run("latest", func(t *testing.T) {
		var out bytes.Buffer
		app.Printer = newTestPrinter(&out)

		require.NoError(t, execute(app, strings.NewReader(""), "report"))

		assert.Contains(t, out.String(), "study")
		assert.Contains(t, out.String(), string(ledger.StepErrored))
		assert.Contains(t, out.String(), "rec02/fail")
	})

	t.Run("explicit file", func(t *testing.T) {
		var out bytes.Buffer
		app.Printer = newTestPrinter(&out)

		require.NoError(t, execute(app, strings.NewReader(""), "report", path))

		assert.Contains(t, out.String(), "state    completed")
	})

	t.Run("no reports", func(t *testing.T) {
		app.Config.Report.Dir = t.TempDir()

		err := execute(app, strings.NewReader(""), "report")

		assert.ErrorContains(t, err, "no reports found")
	})
}

func TestWorkerCommand(t *testing.T) {
	tests := []struct {
		name        string
		job         string
		wantStdout  string
		wantOutcome string
	}{
		{
			name:        "runs operation",
			job:         `{"operation":"summary","args":{"message":"from worker"}}`,
			wantStdout:  "from worker",
			wantOutcome: `"ok":true`,
		},
		{
			name:        "object is rebuilt",
			job:         `{"operation":"describe","object":{"name":"rec01","type":"recording","attributes":{"sfreq":1000}},"args":{}}`,
			wantStdout:  "rec01 (Recording)",
			wantOutcome: `"ok":true`,
		},
		{
			name:        "operation error",
			job:         `{"operation":"fail","args":{"reason":"bad channel"}}`,
			wantOutcome: `"error":"bad channel"`,
		},
		{
			name:        "unknown operation",
			job:         `{"operation":"nope","args":{}}`,
			wantOutcome: "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf, stdout, outcome bytes.Buffer
			app, _, _ := newTestApp(t, &buf)
			app.Outcome = &outcome

			cmd := NewRootCommand(app)
			cmd.SetArgs([]string{"worker"})
			cmd.SetIn(strings.NewReader(tt.job))
			cmd.SetOut(&stdout)
			cmd.SetErr(&stdout)

			require.NoError(t, cmd.ExecuteContext(context.Background()))
			if tt.wantStdout != "" {
				assert.Contains(t, stdout.String(), tt.wantStdout)
			}
			assert.Contains(t, outcome.String(), tt.wantOutcome)
		})
	}
}

func TestRunWithConfig(t *testing.T) {
	chdir(t, t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Output.Color = false

	result := RunWithConfig(cfg, []string{"plan", "-p", filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, 1, result.ExitCode)
	assert.Error(t, result.Err)

	root := createProject(t, studyProject)
	result = RunWithConfig(cfg, []string{"plan", "-p", root})
	assert.Equal(t, 0, result.ExitCode)
	assert.NoError(t, result.Err)
}

func TestRunWithConfig_InvalidLogLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.LogLevel = "loud"

	result := RunWithConfig(cfg, []string{"plan"})

	assert.Equal(t, 1, result.ExitCode)
	assert.ErrorContains(t, result.Err, "invalid log level")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
