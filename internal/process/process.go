package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process owns one spawned backend child. The exec.Cmd is only touched
// under mu; Wait runs exactly once no matter how many callers ask.
type Process struct {
	plan   Plan
	mu     sync.Mutex
	cmd    *exec.Cmd
	status Status

	waitOnce sync.Once
	waitErr  error
}

func New(plan Plan) *Process {
	return &Process{plan: plan, status: Status{Source: plan.Source, Command: plan.String()}}
}

// Plan returns the plan this process was created from.
func (p *Process) Plan() Plan { return p.plan }

// ConfigureCmd builds and configures *exec.Cmd for the plan using mergedEnv.
// It sets workdir, environment, stdout policy and process group attributes.
// Stderr is left to Start, which always pipes it.
func (p *Process) ConfigureCmd(mergedEnv []string, stdout io.Writer) *exec.Cmd {
	cmd := p.plan.BuildCommand()
	if p.plan.WorkDir != "" {
		cmd.Dir = p.plan.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	if p.plan.Stdout == StdoutInherit {
		if stdout == nil {
			stdout = os.Stdout
		}
		cmd.Stdout = stdout
	}
	// nil Stdout means the null device
	configureSysProcAttr(cmd)
	return cmd
}

// Start spawns the child and returns the read end of its stderr pipe.
// The pipe is an os.Pipe owned by the caller, so Wait never closes it
// underneath a reader; it reaches EOF when the child (and any descendant
// holding the write end) exits.
func (p *Process) Start(mergedEnv []string, stdout io.Writer) (io.ReadCloser, error) {
	if err := p.plan.Validate(); err != nil {
		return nil, err
	}
	cmd := p.ConfigureCmd(mergedEnv, stdout)
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// the child has its own copy of the write end
	_ = pw.Close()

	p.mu.Lock()
	p.cmd = cmd
	p.status.PID = cmd.Process.Pid
	p.status.Running = true
	p.status.StartedAt = time.Now()
	p.mu.Unlock()
	return pr, nil
}

func (p *Process) copyCmd() *exec.Cmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd
}

// PID returns the child's pid, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Wait blocks until the child exits and reaps it. Concurrent and repeated
// calls all observe the same result.
func (p *Process) Wait() error {
	cmd := p.copyCmd()
	if cmd == nil {
		return ErrNotStarted
	}
	p.waitOnce.Do(func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.status.Running = false
		p.status.StoppedAt = time.Now()
		p.status.ExitErr = err
		p.mu.Unlock()
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Terminate asks the child to exit and waits for it.
// With grace <= 0 the wait is unbounded. With grace > 0 the child is killed
// forcefully once grace elapses, then reaped.
func (p *Process) Terminate(grace time.Duration) error {
	cmd := p.copyCmd()
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}
	if err := terminateProcess(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("Terminate signal failed", "pid", cmd.Process.Pid, "error", err)
	}
	if grace <= 0 {
		return p.Wait()
	}
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		slog.Warn("Backend ignored termination, killing", "pid", cmd.Process.Pid, "grace", grace)
		if err := killProcess(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("Kill failed", "pid", cmd.Process.Pid, "error", err)
		}
		return <-done
	}
}
