// Package ledger records the progress of one run: per-step status, the current
// plan index, the run state and the accumulated error list.
//
// A [Ledger] has a single writer, the engine. Every mutation publishes a fresh
// immutable [Snapshot] through an atomic pointer, so observers on other
// goroutines read consistent views without locking.
package ledger

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"batchpipe/internal/plan"
)

// StepStatus is the status of a single step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepErrored StepStatus = "errored"
	StepSkipped StepStatus = "skipped"
)

// RunState is the state of the whole run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunPaused    RunState = "paused"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFatal     RunState = "fatal"
)

// Terminal reports whether no further steps will run without a restart.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunCancelled || s == RunFatal
}

// ErrorEntry is one recorded step failure.
type ErrorEntry struct {
	Step      int    `yaml:"step"`
	Object    string `yaml:"object"`
	Operation string `yaml:"operation"`
	Message   string `yaml:"message"`
	Err       error  `yaml:"-"`
}

// StepRecord is the ledger's view of one plan step.
type StepRecord struct {
	Index      int        `yaml:"index"`
	Object     string     `yaml:"object,omitempty"`
	ObjectType string     `yaml:"object_type"`
	Operation  string     `yaml:"operation"`
	Status     StepStatus `yaml:"status"`
	Error      string     `yaml:"error,omitempty"`
	Started    time.Time  `yaml:"started,omitempty"`
	Finished   time.Time  `yaml:"finished,omitempty"`
}

// Snapshot is an immutable copy of the ledger at one point in time.
type Snapshot struct {
	RunID      string
	State      RunState
	Current    int
	Steps      []StepRecord
	Errors     []ErrorEntry
	Fatal      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Counts tallies step statuses.
type Counts struct {
	Pending int `yaml:"pending"`
	Running int `yaml:"running"`
	Done    int `yaml:"done"`
	Errored int `yaml:"errored"`
	Skipped int `yaml:"skipped"`
}

// Counts tallies the snapshot's step statuses.
func (s *Snapshot) Counts() Counts {
	var c Counts
	for _, st := range s.Steps {
		switch st.Status {
		case StepPending:
			c.Pending++
		case StepRunning:
			c.Running++
		case StepDone:
			c.Done++
		case StepErrored:
			c.Errored++
		case StepSkipped:
			c.Skipped++
		}
	}
	return c
}

// Statuses returns the step statuses in plan order.
func (s *Snapshot) Statuses() []StepStatus {
	out := make([]StepStatus, len(s.Steps))
	for i, st := range s.Steps {
		out[i] = st.Status
	}
	return out
}

// Ledger is the mutable run record. Only the engine calls its mutating methods.
type Ledger struct {
	now func() time.Time

	runID      string
	state      RunState
	current    int
	steps      []StepRecord
	errors     []ErrorEntry
	fatal      string
	startedAt  time.Time
	finishedAt time.Time

	published atomic.Pointer[Snapshot]
}

// New creates a ledger with every step of p Pending and the run Idle.
func New(p *plan.Plan) *Ledger {
	l := &Ledger{now: time.Now}
	l.steps = make([]StepRecord, p.Len())
	for i, s := range p.Steps() {
		l.steps[i] = StepRecord{
			Index:      s.Index,
			Object:     s.ObjectName(),
			ObjectType: string(s.Operation.Target),
			Operation:  s.Operation.Name,
		}
	}
	l.Reset()
	return l
}

// Reset returns every step to Pending, clears errors and assigns a new run ID.
func (l *Ledger) Reset() {
	l.runID = uuid.NewString()
	l.state = RunIdle
	l.current = 0
	l.errors = nil
	l.fatal = ""
	l.startedAt = time.Time{}
	l.finishedAt = time.Time{}
	for i := range l.steps {
		l.steps[i].Status = StepPending
		l.steps[i].Error = ""
		l.steps[i].Started = time.Time{}
		l.steps[i].Finished = time.Time{}
	}
	l.publish()
}

// RunID returns the identifier of the current run.
func (l *Ledger) RunID() string { return l.runID }

// State returns the run state.
func (l *Ledger) State() RunState { return l.state }

// Current returns the index of the next step to run.
func (l *Ledger) Current() int { return l.current }

// Len returns the number of steps.
func (l *Ledger) Len() int { return len(l.steps) }

// Status returns the status of step i.
func (l *Ledger) Status(i int) StepStatus { return l.steps[i].Status }

// SetState changes the run state. Entering Running for the first time stamps
// the start time; entering a terminal state stamps the finish time.
func (l *Ledger) SetState(s RunState) {
	l.state = s
	switch {
	case s == RunRunning && l.startedAt.IsZero():
		l.startedAt = l.now()
	case s.Terminal():
		l.finishedAt = l.now()
	}
	l.publish()
}

// MarkRunning marks step i Running.
func (l *Ledger) MarkRunning(i int) {
	l.steps[i].Status = StepRunning
	l.steps[i].Started = l.now()
	l.publish()
}

// Finish records the outcome of step i. A nil err marks it Done; otherwise it
// is marked Errored and an entry is appended to the error list.
func (l *Ledger) Finish(i int, err error) StepStatus {
	rec := &l.steps[i]
	rec.Finished = l.now()
	if err == nil {
		rec.Status = StepDone
	} else {
		rec.Status = StepErrored
		rec.Error = err.Error()
		l.errors = append(l.errors, ErrorEntry{
			Step:      i,
			Object:    rec.Object,
			Operation: rec.Operation,
			Message:   err.Error(),
			Err:       err,
		})
	}
	l.publish()
	return rec.Status
}

// Advance moves the current index past the step just finished.
func (l *Ledger) Advance() {
	l.current++
	l.publish()
}

// SkipRemaining marks every Pending step Skipped.
func (l *Ledger) SkipRemaining() {
	for i := range l.steps {
		if l.steps[i].Status == StepPending {
			l.steps[i].Status = StepSkipped
		}
	}
	l.publish()
}

// SetFatal records the reason a run was aborted, skips remaining steps and
// moves the run to Fatal.
func (l *Ledger) SetFatal(err error) {
	l.fatal = err.Error()
	for i := range l.steps {
		if l.steps[i].Status == StepPending || l.steps[i].Status == StepRunning {
			l.steps[i].Status = StepSkipped
		}
	}
	l.SetState(RunFatal)
}

// Snapshot returns the most recently published snapshot. It is safe to call
// from any goroutine.
func (l *Ledger) Snapshot() *Snapshot {
	return l.published.Load()
}

func (l *Ledger) publish() {
	steps := make([]StepRecord, len(l.steps))
	copy(steps, l.steps)
	errs := make([]ErrorEntry, len(l.errors))
	copy(errs, l.errors)

	l.published.Store(&Snapshot{
		RunID:      l.runID,
		State:      l.state,
		Current:    l.current,
		Steps:      steps,
		Errors:     errs,
		Fatal:      l.fatal,
		StartedAt:  l.startedAt,
		FinishedAt: l.finishedAt,
	})
}
