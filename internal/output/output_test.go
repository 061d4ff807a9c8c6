package output

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchpipe/internal/engine"
	"batchpipe/internal/ledger"
	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
	"batchpipe/internal/plan"
	"batchpipe/internal/registry"
	"batchpipe/internal/relay"
	"batchpipe/internal/report"
)

var (
	_ engine.Observer = (*Printer)(nil)
	_ relay.Sink      = (*Printer)(nil)
)

func testPlan(t *testing.T) *plan.Plan {
	t.Helper()
	noop := func(_ context.Context, _ operation.StepContext) error { return nil }
	reg, err := registry.New(
		operation.Spec{Name: "op_filter", Target: objectstore.TypeRecording, Affinity: operation.Concurrent, Params: []string{"lowpass"}, Func: noop},
		operation.Spec{Name: "op_report", Target: objectstore.TypeNone, Affinity: operation.Inline, Func: noop},
	)
	require.NoError(t, err)

	p, err := plan.Build(plan.Selection{
		Objects:    map[objectstore.Type][]string{objectstore.TypeRecording: {"rec01", "rec02"}},
		Operations: []string{"op_filter", "op_report"},
	}, reg)
	require.NoError(t, err)
	return p
}

func TestPrinter_Plan(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrinterWithWriter(buf)

	p.Plan(testPlan(t))

	assert.Equal(t, "Recording (2)\n  1  rec01/op_filter\n  2  rec02/op_filter\nOther (1)\n  3  /op_report\n", buf.String())
}

func TestPrinter_EmptyPlan(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPrinterWithWriter(buf).Plan(&plan.Plan{})

	assert.Equal(t, "plan is empty\n", buf.String())
}

func TestPrinter_StepEvents(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrinterWithWriter(buf)
	pl := testPlan(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	p.RunHeader("demo", "abc", pl)
	p.OnPhaseChanged(objectstore.TypeRecording)
	p.OnStepStarted(pl.Step(0))
	clock = clock.Add(1500 * time.Millisecond)
	p.OnStepFinished(pl.Step(0), ledger.StepDone, nil)
	p.OnStepStarted(pl.Step(1))
	p.OnStepFinished(pl.Step(1), ledger.StepErrored, errors.New("boom"))
	p.OnStepFinished(pl.Step(2), ledger.StepSkipped, nil)

	out := buf.String()
	assert.Contains(t, out, "batchpipe run demo")
	assert.Contains(t, out, "run abc, 3 steps")
	assert.Contains(t, out, "── Recording")
	assert.Contains(t, out, "▶ [1/3] rec01/op_filter")
	assert.Contains(t, out, "✓ [1/3] rec01/op_filter 1.5s")
	assert.Contains(t, out, "✗ [2/3] rec02/op_filter: boom")
	assert.Contains(t, out, "- [3/3] /op_report skipped")
	assert.Empty(t, p.started)
}

func TestPrinter_OnRunFinished(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrinterWithWriter(buf)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p.OnRunFinished(&ledger.Snapshot{
		State:      ledger.RunCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Steps: []ledger.StepRecord{
			{Status: ledger.StepDone},
			{Status: ledger.StepErrored},
			{Status: ledger.StepDone},
		},
		Errors: []ledger.ErrorEntry{{Step: 1, Object: "rec02", Operation: "op_filter", Message: "boom"}},
	})

	out := buf.String()
	assert.Contains(t, out, "state    completed")
	assert.Contains(t, out, "done     2")
	assert.Contains(t, out, "errored  1")
	assert.Contains(t, out, "elapsed  2s")
	assert.Contains(t, out, "step 2 rec02/op_filter: boom")
}

func TestPrinter_OnRunFinished_NoErrorsNoErrorBox(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrinterWithWriter(buf)

	p.OnRunFinished(&ledger.Snapshot{State: ledger.RunCancelled, Steps: []ledger.StepRecord{{Status: ledger.StepSkipped}}})

	assert.Contains(t, buf.String(), "skipped  1")
	assert.NotContains(t, buf.String(), "step ")
	assert.NotContains(t, buf.String(), "fatal")
}

func TestPrinter_Report(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrinterWithWriter(buf)

	p.Report(report.Report{
		RunID:   "r1",
		Project: "demo",
		State:   ledger.RunFatal,
		Fatal:   "venue spawn failed",
		Steps: []ledger.StepRecord{
			{Object: "rec01", Operation: "shell", Status: ledger.StepErrored},
			{Object: "rec02", Operation: "shell", Status: ledger.StepSkipped},
		},
		Counts: ledger.Counts{Errored: 1, Skipped: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "run r1 demo")
	assert.Contains(t, out, "errored  rec01/shell")
	assert.Contains(t, out, "skipped  rec02/shell")
	assert.Contains(t, out, "fatal: venue spawn failed")
}

func TestPrinter_WriteLine(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrinterWithWriter(buf)

	p.WriteLine(relay.Line{Channel: relay.Stdout, Text: "hello"})
	p.WriteLine(relay.Line{Channel: relay.Stderr, Text: "warn"})
	p.WriteLine(relay.Line{Channel: relay.Progress, Text: "50%"})

	assert.Equal(t, "  │ hello\n  │ warn\n  │ 50%\n", buf.String())
}

func TestPrinter_Operations(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewPrinterWithWriter(buf)
	p.DisableColor()

	p.Operations([]operation.Spec{
		{Name: "op_filter", Target: objectstore.TypeRecording, Affinity: operation.Concurrent, Params: []string{"lowpass", "highpass"}},
		{Name: "op_report", Target: objectstore.TypeNone, Affinity: operation.Isolated},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "op_filter")
	assert.Contains(t, lines[0], "lowpass, highpass")
	assert.Contains(t, lines[1], "isolated")
	assert.True(t, strings.HasSuffix(lines[1], "-"))
}

func TestPrinter_Archived(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPrinterWithWriter(buf).Archived([]string{"reports/run-1.yaml", "runs/run-1.yaml"})

	assert.Equal(t, "report: reports/run-1.yaml\nreport: runs/run-1.yaml\n", buf.String())
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    string
		skip    bool
		wantErr string
	}{
		{name: "defaults", want: "level=INFO msg=hello"},
		{name: "json", format: "json", want: `"msg":"hello"`},
		{name: "level filters", level: "error", skip: true},
		{name: "bad level", level: "loud", wantErr: "invalid log level"},
		{name: "bad format", format: "xml", wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger, err := NewLogger(tt.level, tt.format, buf)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			logger.Info("hello")

			if tt.skip {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestPrinter_Paused(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPrinterWithWriter(buf).Paused(&ledger.Snapshot{Current: 2, Steps: make([]ledger.StepRecord, 5)})

	assert.Equal(t, "paused after 2 of 5 steps, press Enter to resume\n", buf.String())
}
