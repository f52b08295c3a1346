package reclaim

import (
	"context"
	"fmt"
	"strconv"
)

// FuserReclaimer lists the users of a TCP port with fuser and kills them.
// fuser prints the port label on stderr and bare pids on stdout.
type FuserReclaimer struct {
	Run  Runner
	Kill Killer
}

func NewFuserReclaimer() *FuserReclaimer {
	return &FuserReclaimer{Run: ExecRunner, Kill: killPID}
}

func (r *FuserReclaimer) Name() string { return "fuser" }

func (r *FuserReclaimer) Reclaim(ctx context.Context, port int) ([]int, error) {
	out, err := r.Run(ctx, "fuser", "-n", "tcp", strconv.Itoa(port))
	if err != nil {
		if noMatch(err, out) {
			return nil, nil
		}
		return nil, fmt.Errorf("fuser: %w", err)
	}
	return killAll(r.Name(), r.Kill, parsePIDs(out))
}
