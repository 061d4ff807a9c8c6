// Package report archives the final ledger of a run.
//
// A [Report] is a YAML document built from a ledger snapshot. Archivers store
// it on local disk ([FileArchiver]), in an S3-compatible bucket
// ([MinIOArchiver]) or both ([Multi]).
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"batchpipe/internal/ledger"
)

// Report is the archived form of a finished run.
type Report struct {
	RunID      string              `yaml:"run_id"`
	Project    string              `yaml:"project,omitempty"`
	State      ledger.RunState     `yaml:"state"`
	StartedAt  time.Time           `yaml:"started_at,omitempty"`
	FinishedAt time.Time           `yaml:"finished_at,omitempty"`
	Counts     ledger.Counts       `yaml:"counts"`
	Fatal      string              `yaml:"fatal,omitempty"`
	Errors     []ledger.ErrorEntry `yaml:"errors"`
	Steps      []ledger.StepRecord `yaml:"steps"`
}

// FromSnapshot builds a report for project from snap.
func FromSnapshot(snap *ledger.Snapshot, project string) Report {
	errs := snap.Errors
	if errs == nil {
		errs = []ledger.ErrorEntry{}
	}
	return Report{
		RunID:      snap.RunID,
		Project:    project,
		State:      snap.State,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
		Counts:     snap.Counts(),
		Fatal:      snap.Fatal,
		Errors:     errs,
		Steps:      snap.Steps,
	}
}

// Marshal encodes the report as YAML.
func (r Report) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

// FileName is the object or file name a report is archived under.
func (r Report) FileName() string {
	return "run-" + r.RunID + ".yaml"
}

// Parse decodes a report from YAML.
func Parse(data []byte) (Report, error) {
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("failed to parse report: %w", err)
	}
	if r.RunID == "" {
		return Report{}, errors.New("report has no run_id")
	}
	return r, nil
}

// ReadFile reads an archived report from disk.
func ReadFile(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read report: %w", err)
	}
	return Parse(data)
}

// Archiver stores a report and returns where it was stored.
type Archiver interface {
	Archive(ctx context.Context, r Report) (string, error)
}

// FileArchiver writes reports into a directory.
type FileArchiver struct {
	Dir string
}

// NewFileArchiver creates a [FileArchiver] for dir.
func NewFileArchiver(dir string) *FileArchiver {
	return &FileArchiver{Dir: dir}
}

// Archive writes the report atomically (write to temp, then rename).
func (a *FileArchiver) Archive(ctx context.Context, r Report) (string, error) {
	data, err := r.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	fullPath := filepath.Join(a.Dir, r.FileName())
	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return fullPath, nil
}

// Multi archives to every archiver in order and returns all locations. It
// stops at the first failure.
type Multi []Archiver

// ArchiveAll archives r with each archiver.
func (m Multi) ArchiveAll(ctx context.Context, r Report) ([]string, error) {
	locations := make([]string, 0, len(m))
	for _, a := range m {
		loc, err := a.Archive(ctx, r)
		if err != nil {
			return locations, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// Archive implements [Archiver], returning the first location.
func (m Multi) Archive(ctx context.Context, r Report) (string, error) {
	locs, err := m.ArchiveAll(ctx, r)
	if err != nil {
		return "", err
	}
	if len(locs) == 0 {
		return "", nil
	}
	return locs[0], nil
}
