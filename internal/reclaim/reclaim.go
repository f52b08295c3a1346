// Package reclaim frees the backend's well-known port by force. It is the
// last step of every shutdown and runs whether or not the supervisor ever
// spawned anything, so a backend left over from a crashed session does not
// keep the port.
package reclaim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/sidecar/internal/metrics"
)

// ErrToolMissing means a strategy cannot run on this host, usually because
// its external tool is not installed. Chain moves on to the next strategy.
var ErrToolMissing = errors.New("reclaim tool not available")

// Reclaimer terminates whatever listens on a TCP port.
type Reclaimer interface {
	// Reclaim kills the listeners of port and returns the pids it killed.
	Reclaim(ctx context.Context, port int) ([]int, error)
	Name() string
}

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Killer forcefully terminates one pid.
type Killer func(pid int) error

// ExecRunner runs name via os/exec. A binary missing from PATH is reported
// as ErrToolMissing.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrToolMissing)
	}
	// #nosec G204 -- fixed tool names, numeric arguments
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}

// noMatch reports whether err is the "nothing found" exit status that lsof,
// fuser and findstr-style tools return when the port is free.
func noMatch(err error, out []byte) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee) && ee.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0
}

// parsePIDs collects every positive integer token of out, skipping the
// calling process and duplicates. Output order is ascending.
func parsePIDs(out []byte) []int {
	self := os.Getpid()
	seen := make(map[int]bool)
	var pids []int
	for _, f := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(strings.TrimRight(f, "cefFrmtx"))
		if err != nil || pid <= 0 || pid == self || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// killAll kills every pid, returning the ones that went down and the
// joined errors of the ones that did not.
func killAll(strategy string, kill Killer, pids []int) ([]int, error) {
	self := os.Getpid()
	var killed []int
	var errs []error
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := kill(pid); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		killed = append(killed, pid)
	}
	metrics.AddReclaimed(strategy, len(killed))
	return killed, errors.Join(errs...)
}

// Chain tries each strategy in order. A strategy failing with ErrToolMissing
// hands over to the next one; any other outcome is final.
type Chain []Reclaimer

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, r := range c {
		names = append(names, r.Name())
	}
	return strings.Join(names, ",")
}

func (c Chain) Reclaim(ctx context.Context, port int) ([]int, error) {
	for _, r := range c {
		pids, err := r.Reclaim(ctx, port)
		if errors.Is(err, ErrToolMissing) {
			continue
		}
		return pids, err
	}
	return nil, ErrToolMissing
}

// ForOS returns the port sweep used on goos.
func ForOS(goos string) Reclaimer {
	switch goos {
	case "windows":
		return Chain{NewNetstatReclaimer(), NewConnReclaimer()}
	case "linux":
		return Chain{NewLsofReclaimer(), NewFuserReclaimer(), NewConnReclaimer()}
	default:
		return Chain{NewLsofReclaimer(), NewConnReclaimer()}
	}
}
