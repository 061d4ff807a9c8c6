// Package output renders batch runs to the terminal and builds the process
// logger.
//
// Key types:
//   - [Printer] draws plans, step progress, relayed worker output and the
//     final run summary with lipgloss styles
//   - [NewLogger] builds the slog logger used by the engine and loaders
//
// Printer implements both the engine's observer interface and the relay sink,
// so one value can be handed to the engine for events and worker output. All
// methods are safe for concurrent use.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"batchpipe/internal/ledger"
	"batchpipe/internal/objectstore"
	"batchpipe/internal/operation"
	"batchpipe/internal/plan"
	"batchpipe/internal/relay"
	"batchpipe/internal/report"
)

// styles groups the lipgloss styles of one printer.
type styles struct {
	header   lipgloss.Style
	phase    lipgloss.Style
	running  lipgloss.Style
	done     lipgloss.Style
	errored  lipgloss.Style
	skipped  lipgloss.Style
	muted    lipgloss.Style
	stderr   lipgloss.Style
	summary  lipgloss.Style
	errorBox lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		phase:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801")),
		running:  r.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
		done:     r.NewStyle().Foreground(lipgloss.Color("#4CAF50")),
		errored:  r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		skipped:  r.NewStyle().Foreground(lipgloss.Color("#999999")),
		muted:    r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
		stderr:   r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		summary:  r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		errorBox: r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#FF6B6B")).Padding(0, 1),
	}
}

// Printer writes run progress to a terminal.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles

	total   int
	started map[int]time.Time
	now     func() time.Time
}

// NewPrinter creates a printer writing to stdout.
func NewPrinter() *Printer {
	return NewPrinterWithWriter(os.Stdout)
}

// NewPrinterWithWriter creates a printer writing to w. Colour is enabled only
// when w is a terminal.
func NewPrinterWithWriter(w io.Writer) *Printer {
	return &Printer{
		out:     w,
		styles:  newStyles(lipgloss.NewRenderer(w)),
		started: make(map[int]time.Time),
		now:     time.Now,
	}
}

// DisableColor renders every style as plain text.
func (p *Printer) DisableColor() {
	p.mu.Lock()
	defer p.mu.Unlock()
	plain := lipgloss.NewStyle()
	p.styles = styles{
		header: plain, phase: plain, running: plain, done: plain, errored: plain,
		skipped: plain, muted: plain, stderr: plain,
		summary:  plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
		errorBox: plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
	}
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// RunHeader prints the project name, run ID and plan size.
func (p *Printer) RunHeader(project, runID string, pl *plan.Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = pl.Len()
	p.printf("%s\n", p.styles.header.Render(fmt.Sprintf("batchpipe run %s", project)))
	p.printf("%s\n\n", p.styles.muted.Render(fmt.Sprintf("run %s, %d steps", runID, pl.Len())))
}

// Plan prints every step of pl grouped by phase.
func (p *Printer) Plan(pl *plan.Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pl.Len() == 0 {
		p.printf("%s\n", p.styles.muted.Render("plan is empty"))
		return
	}
	width := len(fmt.Sprint(pl.Len()))
	var phase objectstore.Type
	for _, step := range pl.Steps() {
		if step.Phase() != phase {
			phase = step.Phase()
			p.printf("%s\n", p.styles.phase.Render(fmt.Sprintf("%s (%d)", phase.Label(), pl.Count(phase))))
		}
		p.printf("  %*d  %s\n", width, step.Index+1, step)
	}
}

// Operations prints a registry listing.
func (p *Printer) Operations(specs []operation.Spec) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range specs {
		params := "-"
		if len(s.Params) > 0 {
			params = strings.Join(s.Params, ", ")
		}
		p.printf("%s  %s  %s  %s\n",
			p.styles.header.Render(fmt.Sprintf("%-20s", s.Name)),
			fmt.Sprintf("%-10s", s.Target),
			p.styles.muted.Render(fmt.Sprintf("%-10s", s.Affinity)),
			params,
		)
	}
}

// OnPhaseChanged prints a phase banner.
func (p *Printer) OnPhaseChanged(phase objectstore.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.styles.phase.Render("── "+phase.Label()))
}

// OnStepStarted prints the step being started.
func (p *Printer) OnStepStarted(step plan.Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started[step.Index] = p.now()
	p.printf("%s %s %s\n",
		p.styles.running.Render("▶"),
		p.styles.muted.Render(p.counter(step)),
		step)
}

// OnStepFinished prints the step outcome and its duration.
func (p *Printer) OnStepFinished(step plan.Step, status ledger.StepStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var elapsed time.Duration
	if t, ok := p.started[step.Index]; ok {
		elapsed = p.now().Sub(t)
		delete(p.started, step.Index)
	}

	switch status {
	case ledger.StepDone:
		p.printf("%s %s %s %s\n", p.styles.done.Render("✓"), p.styles.muted.Render(p.counter(step)),
			step, p.styles.muted.Render(elapsed.Round(time.Millisecond).String()))
	case ledger.StepErrored:
		msg := ""
		if err != nil {
			msg = ": " + err.Error()
		}
		p.printf("%s %s %s%s\n", p.styles.errored.Render("✗"), p.styles.muted.Render(p.counter(step)),
			step, p.styles.errored.Render(msg))
	default:
		p.printf("%s %s %s %s\n", p.styles.skipped.Render("-"), p.styles.muted.Render(p.counter(step)),
			step, p.styles.skipped.Render(string(status)))
	}
}

// OnRunFinished prints the summary box and the error list.
func (p *Printer) OnRunFinished(snap *ledger.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaryLocked(string(snap.State), snap.Counts(), snap.Fatal, snap.Errors, snap.FinishedAt.Sub(snap.StartedAt))
}

// Report prints an archived report.
func (p *Printer) Report(r report.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.styles.header.Render(fmt.Sprintf("run %s %s", r.RunID, r.Project)))
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %-8s %s/%s", s.Status, s.Object, s.Operation)
		p.printf("%s\n", p.statusStyle(s.Status).Render(line))
	}
	p.summaryLocked(string(r.State), r.Counts, r.Fatal, r.Errors, r.FinishedAt.Sub(r.StartedAt))
}

// Paused prints the resume prompt of a paused run.
func (p *Printer) Paused(snap *ledger.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.styles.phase.Render(
		fmt.Sprintf("paused after %d of %d steps, press Enter to resume", snap.Current, len(snap.Steps))))
}

// Archived prints where the run report was stored.
func (p *Printer) Archived(locations []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, loc := range locations {
		p.printf("%s\n", p.styles.muted.Render("report: "+loc))
	}
}

// WriteLine implements the relay sink. Worker stderr is highlighted and
// progress lines are dimmed.
func (p *Printer) WriteLine(l relay.Line) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch l.Channel {
	case relay.Stderr:
		p.printf("  │ %s\n", p.styles.stderr.Render(l.Text))
	case relay.Progress:
		p.printf("  │ %s\n", p.styles.muted.Render(l.Text))
	default:
		p.printf("  │ %s\n", l.Text)
	}
}

func (p *Printer) summaryLocked(state string, c ledger.Counts, fatal string, errs []ledger.ErrorEntry, elapsed time.Duration) {
	lines := []string{
		fmt.Sprintf("state    %s", state),
		fmt.Sprintf("done     %d", c.Done),
		fmt.Sprintf("errored  %d", c.Errored),
		fmt.Sprintf("skipped  %d", c.Skipped),
	}
	if elapsed > 0 {
		lines = append(lines, fmt.Sprintf("elapsed  %s", elapsed.Round(time.Millisecond)))
	}
	p.printf("\n%s\n", p.styles.summary.Render(strings.Join(lines, "\n")))

	if fatal == "" && len(errs) == 0 {
		return
	}
	var body []string
	if fatal != "" {
		body = append(body, "fatal: "+fatal)
	}
	for _, e := range errs {
		name := e.Object
		if name == "" {
			name = "-"
		}
		body = append(body, fmt.Sprintf("step %d %s/%s: %s", e.Step+1, name, e.Operation, e.Message))
	}
	p.printf("%s\n", p.styles.errorBox.Render(strings.Join(body, "\n")))
}

func (p *Printer) statusStyle(s ledger.StepStatus) lipgloss.Style {
	switch s {
	case ledger.StepDone:
		return p.styles.done
	case ledger.StepErrored:
		return p.styles.errored
	case ledger.StepRunning:
		return p.styles.running
	}
	return p.styles.skipped
}

func (p *Printer) counter(step plan.Step) string {
	if p.total == 0 {
		return fmt.Sprintf("[%d]", step.Index+1)
	}
	return fmt.Sprintf("[%d/%d]", step.Index+1, p.total)
}
