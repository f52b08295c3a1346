package reclaim

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// NetstatReclaimer finds listeners in `netstat -ano` output and ends each
// one, with its child tree, through taskkill.
type NetstatReclaimer struct {
	Run Runner
}

func NewNetstatReclaimer() *NetstatReclaimer {
	return &NetstatReclaimer{Run: ExecRunner}
}

func (r *NetstatReclaimer) Name() string { return "netstat" }

func (r *NetstatReclaimer) Reclaim(ctx context.Context, port int) ([]int, error) {
	out, err := r.Run(ctx, "netstat", "-ano", "-p", "tcp")
	if err != nil {
		return nil, fmt.Errorf("netstat: %w", err)
	}
	kill := func(pid int) error {
		_, err := r.Run(ctx, "taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
		return err
	}
	return killAll(r.Name(), kill, ParseNetstat(out, port))
}

// ParseNetstat returns the pids of LISTENING TCP rows whose local address
// ends in :port. Rows look like
//
//	TCP    127.0.0.1:54999    0.0.0.0:0    LISTENING    4242
func ParseNetstat(out []byte, port int) []int {
	suffix := ":" + strconv.Itoa(port)
	self := os.Getpid()
	seen := make(map[int]bool)
	var pids []int
	for _, line := range strings.Split(string(out), "\n") {
		f := strings.Fields(line)
		if len(f) < 5 || !strings.EqualFold(f[0], "TCP") {
			continue
		}
		if !strings.HasSuffix(f[1], suffix) || !strings.EqualFold(f[3], "LISTENING") {
			continue
		}
		pid, err := strconv.Atoi(f[len(f)-1])
		if err != nil || pid <= 0 || pid == self || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}
