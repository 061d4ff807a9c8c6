package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"batchpipe/internal/builtin"
	"batchpipe/internal/config"
	"batchpipe/internal/operation"
	"batchpipe/internal/output"
	"batchpipe/internal/report"
	"batchpipe/internal/venue"
)

// MockSpawner runs isolated jobs in-process through [venue.Serve].
type MockSpawner struct {
	// Catalog resolves job operations. Nil uses the built-in catalog.
	Catalog operation.Catalog
	// Err makes every Spawn fail.
	Err error

	mu   sync.Mutex
	jobs []venue.Job
}

func (m *MockSpawner) Spawn(ctx context.Context, job venue.Job) (venue.Process, error) {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	catalog := m.Catalog
	if catalog == nil {
		catalog = builtin.Catalog()
	}
	p := &mockProcess{ctx: ctx, job: job, catalog: catalog, done: make(chan struct{})}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p, nil
}

// Jobs returns the jobs spawned so far.
func (m *MockSpawner) Jobs() []venue.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]venue.Job(nil), m.jobs...)
}

type mockProcess struct {
	ctx     context.Context
	job     venue.Job
	catalog operation.Catalog

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	done    chan struct{}
	outcome bytes.Buffer
	err     error
}

func (p *mockProcess) Stdout() io.Reader { return p.stdoutR }
func (p *mockProcess) Stderr() io.Reader { return p.stderrR }

func (p *mockProcess) Start() error {
	stdin, err := json.Marshal(p.job)
	if err != nil {
		return err
	}
	go func() {
		defer close(p.done)
		p.err = venue.Serve(p.ctx, p.catalog, bytes.NewReader(stdin), p.stdoutW, p.stderrW, &p.outcome)
		p.stdoutW.Close()
		p.stderrW.Close()
	}()
	return nil
}

func (p *mockProcess) Wait() (venue.Outcome, error) {
	<-p.done
	var out venue.Outcome
	if p.err != nil {
		return out, p.err
	}
	if err := json.Unmarshal(p.outcome.Bytes(), &out); err != nil {
		return out, err
	}
	return out, nil
}

// MockArchiver records archived reports.
type MockArchiver struct {
	// Err makes every Archive fail.
	Err error

	mu      sync.Mutex
	Reports []report.Report
}

func (m *MockArchiver) Archive(ctx context.Context, r report.Report) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports = append(m.Reports, r)
	return "mock://" + r.FileName(), nil
}

// Last returns the most recent report.
func (m *MockArchiver) Last() (report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Reports) == 0 {
		return report.Report{}, errors.New("no reports archived")
	}
	return m.Reports[len(m.Reports)-1], nil
}

// newTestApp returns an App writing to out with mock spawner and archiver.
func newTestApp(t *testing.T, out io.Writer) (*App, *MockSpawner, *MockArchiver) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Registry.CustomDir = ""

	spawner := &MockSpawner{}
	archiver := &MockArchiver{}
	return &App{
		Config:     cfg,
		Printer:    newTestPrinter(out),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Catalog:    builtin.Catalog(),
		Spawner:    spawner,
		Archiver:   archiver,
		Interrupts: make(chan os.Signal),
	}, spawner, archiver
}

func newTestPrinter(out io.Writer) *output.Printer {
	printer := output.NewPrinterWithWriter(out)
	printer.DisableColor()
	return printer
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// createProject writes a project directory with one anatomy, two recordings
// and one group, and the given project file.
func createProject(t *testing.T, projectYAML string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "project.yaml"), projectYAML)
	writeFile(t, filepath.Join(root, "anatomy", "fs01.yaml"), "spacing: oct6\n")
	writeFile(t, filepath.Join(root, "recordings", "rec01.yaml"), "sfreq: 1000\nanatomy: fs01\n")
	writeFile(t, filepath.Join(root, "recordings", "rec02.yaml"), "sfreq: 500\n")
	writeFile(t, filepath.Join(root, "groups", "all.yaml"), "members: [rec01, rec02]\n")
	return root
}
