package reclaim

import (
	"context"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/sidecar/internal/detector"
)

// ConnReclaimer reads the socket table in-process and kills listeners
// through gopsutil. It is the fallback when no OS tool is installed.
type ConnReclaimer struct {
	Timeout time.Duration
	// Lookup lists listening pids; defaults to detector.ListeningPIDs.
	Lookup func(ctx context.Context, port int, timeout time.Duration) ([]int, error)
	Kill   Killer
}

func NewConnReclaimer() *ConnReclaimer {
	return &ConnReclaimer{Timeout: 5 * time.Second, Lookup: detector.ListeningPIDs, Kill: gopsKill}
}

func (r *ConnReclaimer) Name() string { return "gopsutil" }

func (r *ConnReclaimer) Reclaim(ctx context.Context, port int) ([]int, error) {
	pids, err := r.Lookup(ctx, port, r.Timeout)
	if err != nil {
		return nil, err
	}
	return killAll(r.Name(), r.Kill, pids)
}

func gopsKill(pid int) error {
	p, err := gopsproc.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return err
	}
	return p.Kill()
}
