package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// OutcomeFD is the file descriptor a worker process writes its [Outcome] to.
const OutcomeFD = 3

// ExecSpawner starts worker processes by executing Path with Args. The job is
// written to the worker's stdin as JSON and the outcome is read from
// [OutcomeFD].
type ExecSpawner struct {
	Path string
	Args []string

	// Env replaces the worker's environment when non-nil.
	Env []string
	Dir string
}

// Spawn implements [Spawner].
//
// The process is not bound to ctx: a running worker is allowed to finish even
// after the run is cancelled.
func (s *ExecSpawner) Spawn(ctx context.Context, job Job) (Process, error) {
	if strings.TrimSpace(s.Path) == "" {
		return nil, fmt.Errorf("worker binary path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	p := &execProcess{}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if p.outcomeR, p.outcomeW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create outcome pipe: %w", err)
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW
	cmd.ExtraFiles = []*os.File{p.outcomeW}
	cmd.Dir = s.Dir
	if s.Env != nil {
		cmd.Env = s.Env
	}
	p.cmd = cmd
	return p, nil
}

type execProcess struct {
	cmd *exec.Cmd

	stdoutR, stdoutW   *os.File
	stderrR, stderrW   *os.File
	outcomeR, outcomeW *os.File

	outcome chan []byte
}

func (p *execProcess) Stdout() io.Reader { return p.stdoutR }

func (p *execProcess) Stderr() io.Reader { return p.stderrR }

// Start starts the worker and releases the parent's copies of the write ends,
// so readers see EOF once the worker exits. On failure the read ends hit EOF
// immediately.
func (p *execProcess) Start() error {
	err := p.cmd.Start()
	p.stdoutW.Close()
	p.stderrW.Close()
	p.outcomeW.Close()
	if err != nil {
		p.outcomeR.Close()
		return fmt.Errorf("start worker: %w", err)
	}

	p.outcome = make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(p.outcomeR)
		p.outcome <- data
	}()
	return nil
}

func (p *execProcess) Wait() (Outcome, error) {
	waitErr := p.cmd.Wait()
	data := <-p.outcome
	p.outcomeR.Close()
	p.stdoutR.Close()
	p.stderrR.Close()

	var out Outcome
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return Outcome{}, fmt.Errorf("decode worker outcome: %w", err)
		}
	}
	return out, waitErr
}

func (p *execProcess) closeAll() {
	for _, f := range []*os.File{p.stdoutR, p.stdoutW, p.stderrR, p.stderrW, p.outcomeR, p.outcomeW} {
		if f != nil {
			f.Close()
		}
	}
}
