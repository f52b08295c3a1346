// Package supervisor owns the lifecycle of the single local backend: it
// decides whether to launch, launches through the first workable plan,
// relays diagnostics, and tears everything down on shutdown, including a
// forceful sweep of the well-known port.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loykin/sidecar/internal/detector"
	"github.com/loykin/sidecar/internal/env"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/locator"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/reclaim"
	"github.com/loykin/sidecar/internal/relay"
)

// ErrStartupFatal is returned by Launch when no launch plan could be spawned.
// The host shell is expected to abort its own startup on it.
var ErrStartupFatal = errors.New("backend startup failed")

const (
	// relayDrainTimeout bounds how long Shutdown waits for trailing log lines
	// after the child has been reaped.
	relayDrainTimeout = time.Second
	// sweepTimeout bounds the port sweep; lsof can stall on network mounts.
	sweepTimeout = 5 * time.Second
)

// DefaultStopTimeout is how long a backend gets to honor SIGTERM before
// its process group is killed.
const DefaultStopTimeout = 5 * time.Second

// Options configures a Supervisor. Zero values select defaults.
type Options struct {
	Locator      locator.Locator
	Prober       detector.Detector // default: HTTP readiness probe on Locator host/port
	ProbeTimeout time.Duration     // used by the default prober
	Reclaimer    reclaim.Reclaimer // default: reclaim.ForOS(runtime.GOOS)
	Emitter      relay.Emitter     // receives backend-log events; may be nil
	Out          io.Writer         // local echo of relayed lines; default os.Stdout
	Prefix       string            // prefix of echoed lines
	Mirror       io.Writer         // optional unprefixed copy of relayed lines
	Stdout       io.Writer         // child stdout when the plan inherits it; default os.Stdout
	History      history.Sink
	Env          *env.Env // supervisor-wide variables layered over the OS env
	StopTimeout  time.Duration     // 0 selects DefaultStopTimeout; < 0 waits without bound
	Logger       *slog.Logger
}

// Result describes what Launch did.
type Result struct {
	// Skipped is set when a backend already answered; nothing was spawned.
	Skipped bool `json:"skipped"`
	// Reused is set when the tracked backend is still up; nothing was spawned.
	Reused  bool           `json:"reused"`
	PID     int            `json:"pid,omitempty"`
	Source  process.Source `json:"source,omitempty"`
	Command string         `json:"command,omitempty"`
}

// ShutdownReport describes what Shutdown did. Shutdown never fails; the
// report is informational.
type ShutdownReport struct {
	Stopped   bool   `json:"stopped"`
	PID       int    `json:"pid,omitempty"`
	ExitErr   string `json:"exit_error,omitempty"`
	Reclaimed []int  `json:"reclaimed,omitempty"`
	SweepErr  string `json:"sweep_error,omitempty"`
}

// Status is a snapshot of the supervised backend.
type Status struct {
	Running   bool           `json:"running"`
	PID       int            `json:"pid,omitempty"`
	Host      string         `json:"host"`
	Port      int            `json:"port"`
	Source    process.Source `json:"source,omitempty"`
	Command   string         `json:"command,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	Skipped   bool           `json:"skipped"` // last Launch found a foreign backend
}

// Supervisor launches and stops the backend. Create it with New; the zero
// value is not usable.
type Supervisor struct {
	opts    Options
	loc     locator.Locator
	prober  detector.Detector
	reclaim reclaim.Reclaimer
	env     *env.Env
	log     *slog.Logger

	cell    Cell
	skipped atomic.Bool
}

func New(opts Options) *Supervisor {
	loc := opts.Locator
	if loc.Host == "" {
		loc.Host = locator.DefaultHost
	}
	if loc.Port == 0 {
		loc.Port = locator.DefaultPort
	}
	s := &Supervisor{opts: opts, loc: loc, prober: opts.Prober, reclaim: opts.Reclaimer, env: opts.Env, log: opts.Logger}
	if s.prober == nil {
		s.prober = detector.NewHTTPDetector(loc.Host, loc.Port, opts.ProbeTimeout)
	}
	if s.reclaim == nil {
		s.reclaim = reclaim.ForOS(runtime.GOOS)
	}
	if s.env == nil {
		s.env = env.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.opts.StopTimeout == 0 {
		s.opts.StopTimeout = DefaultStopTimeout
	}
	return s
}

// Locator returns the effective locator.
func (s *Supervisor) Locator() locator.Locator { return s.loc }

// Probe runs the readiness probe once. Errors count as not healthy.
func (s *Supervisor) Probe() bool {
	ok, err := s.prober.Alive()
	if err != nil {
		s.log.Debug("Readiness probe failed", "target", s.prober.Describe(), "error", err)
		ok = false
	}
	metrics.ObserveProbe(ok)
	return ok
}

// Launch starts the backend unless one is already serving the port.
// The Cell stays locked for the whole decision, so concurrent calls spawn
// at most one child.
func (s *Supervisor) Launch(ctx context.Context) (Result, error) {
	var (
		res Result
		err error
	)
	s.cell.update(func(sl *slot) { res, err = s.launchLocked(ctx, sl) })
	return res, err
}

func (s *Supervisor) launchLocked(ctx context.Context, sl *slot) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	healthy := s.Probe()

	if sl.proc != nil {
		if healthy || !sl.exited() {
			st := sl.proc.Snapshot()
			return Result{Reused: true, PID: st.PID, Source: st.Source, Command: st.Command}, nil
		}
		// the tracked child ended on its own; reap it before spawning again
		s.reap(*sl)
		*sl = slot{}
	}

	if healthy {
		s.skipped.Store(true)
		s.log.Info("Backend already running, skipping launch", "host", s.loc.Host, "port", s.loc.Port)
		metrics.IncLaunchSkip()
		s.record(history.EventSkip, history.Record{Port: s.loc.Port})
		return Result{Skipped: true}, nil
	}
	s.skipped.Store(false)

	if dir := s.loc.StoreDir; dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			s.log.Warn("Failed to create storage directory", "dir", dir, "error", err)
		}
	}

	var errs []error
	for _, plan := range s.loc.Plans() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		p := process.New(plan)
		stderr, err := p.Start(s.env.Merge(plan.Env), s.opts.Stdout)
		if err != nil {
			s.log.Warn("Failed to spawn backend", "source", plan.Source, "command", plan.Command, "error", err)
			metrics.IncLaunchFailure(string(plan.Source))
			errs = append(errs, fmt.Errorf("%s %q: %w", plan.Source, plan.Command, err))
			continue
		}
		rl := &relay.Relay{
			Source:  stderr,
			Emitter: s.opts.Emitter,
			Out:     s.opts.Out,
			Prefix:  s.opts.Prefix,
			Mirror:  s.opts.Mirror,
			Logger:  s.log,
		}
		rl.Start()
		*sl = slot{proc: p, relay: rl}

		st := p.Snapshot()
		s.log.Info("Backend launched", "pid", st.PID, "source", plan.Source, "command", st.Command, "port", s.loc.Port)
		metrics.IncLaunch(string(plan.Source))
		metrics.SetRunning(true)
		s.record(history.EventLaunch, s.recordOf(st, ""))
		return Result{PID: st.PID, Source: st.Source, Command: st.Command}, nil
	}

	joined := errors.Join(errs...)
	s.log.Error("Backend could not be started", "error", joined)
	s.record(history.EventLaunchFailed, history.Record{Port: s.loc.Port, Detail: errString(joined)})
	return Result{}, fmt.Errorf("%w: %w", ErrStartupFatal, joined)
}

// Shutdown stops the tracked backend, if any, then kills whatever still
// listens on the port. It is best-effort and safe to call repeatedly.
func (s *Supervisor) Shutdown(ctx context.Context) ShutdownReport {
	var rep ShutdownReport
	metrics.IncShutdown()

	proc, rl := s.cell.Take()
	if proc != nil {
		rep.Stopped = true
		rep.PID = proc.PID()
		rep.ExitErr = s.stop(slot{proc: proc, relay: rl})
	}

	sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	pids, err := s.reclaim.Reclaim(sctx, s.loc.Port)
	rep.Reclaimed = pids
	if err != nil {
		rep.SweepErr = err.Error()
		s.log.Warn("Port sweep failed", "port", s.loc.Port, "strategy", s.reclaim.Name(), "error", err)
	}
	if len(pids) > 0 {
		s.log.Info("Reclaimed backend port", "port", s.loc.Port, "pids", pids)
		s.record(history.EventReclaim, history.Record{Port: s.loc.Port, Detail: joinPIDs(pids)})
	}
	return rep
}

// stop terminates and reaps the child of sl, then lets the relay drain.
// It returns the exit status text.
func (s *Supervisor) stop(sl slot) string {
	err := sl.proc.Terminate(s.opts.StopTimeout)
	metrics.SetRunning(false)
	if sl.relay != nil {
		select {
		case <-sl.relay.Done():
		case <-time.After(relayDrainTimeout):
			s.log.Debug("Backend log relay still open after stop", "pid", sl.proc.PID())
		}
	}
	st := sl.proc.Snapshot()
	exit := errString(err)
	var lines int64
	if sl.relay != nil {
		lines = sl.relay.Lines()
	}
	s.log.Info("Backend stopped", "pid", st.PID, "exit", exit, "relayed_lines", lines)
	s.record(history.EventStop, s.recordOf(st, exit))
	return exit
}

// reap collects a child that already ended.
func (s *Supervisor) reap(sl slot) {
	s.log.Warn("Tracked backend exited, relaunching", "pid", sl.proc.PID())
	s.stop(sl)
}

// Status returns a snapshot of the supervised backend.
func (s *Supervisor) Status() Status {
	st := Status{Host: s.loc.Host, Port: s.loc.Port, Skipped: s.skipped.Load()}
	if p := s.cell.Peek(); p != nil {
		snap := p.Snapshot()
		st.Running = true
		st.PID = snap.PID
		st.Source = snap.Source
		st.Command = snap.Command
		st.StartedAt = snap.StartedAt
	}
	return st
}

func (s *Supervisor) recordOf(st process.Status, detail string) history.Record {
	return history.Record{PID: st.PID, Port: s.loc.Port, Source: string(st.Source), Command: st.Command, Detail: detail}
}

func (s *Supervisor) record(t history.EventType, rec history.Record) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.Send(context.Background(), history.NewEvent(t, rec)); err != nil {
		s.log.Debug("Failed to record history", "event", t, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func joinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, p := range pids {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
