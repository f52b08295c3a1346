package reclaim

import (
	"context"
	"fmt"
	"strconv"
)

// LsofReclaimer lists listeners with lsof and kills them with SIGKILL.
type LsofReclaimer struct {
	Run  Runner
	Kill Killer
}

func NewLsofReclaimer() *LsofReclaimer {
	return &LsofReclaimer{Run: ExecRunner, Kill: killPID}
}

func (r *LsofReclaimer) Name() string { return "lsof" }

func (r *LsofReclaimer) Reclaim(ctx context.Context, port int) ([]int, error) {
	out, err := r.Run(ctx, "lsof", "-nP", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN")
	if err != nil {
		if noMatch(err, out) {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof: %w", err)
	}
	return killAll(r.Name(), r.Kill, parsePIDs(out))
}
