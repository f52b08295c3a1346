package detector

import (
	"context"
	"strconv"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// PortDetector reports whether any process is listening on a TCP port.
// It inspects the host socket table, so it sees backends that do not
// answer HTTP (hung, still booting, or foreign).
type PortDetector struct {
	Port    int
	Timeout time.Duration
}

func (d PortDetector) Alive() (bool, error) {
	pids, err := ListeningPIDs(context.Background(), d.Port, d.Timeout)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

func (d PortDetector) Describe() string { return "port:" + strconv.Itoa(d.Port) }

// ListeningPIDs returns the pids of processes with a TCP socket in LISTEN
// state on port. Sockets whose owner is not visible (pid 0) are skipped.
func ListeningPIDs(ctx context.Context, port int, timeout time.Duration) ([]int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var out []int
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		pid := int(c.Pid)
		if seen[pid] {
			continue
		}
		seen[pid] = true
		out = append(out, pid)
	}
	return out, nil
}
