//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// terminateProcess sends SIGTERM to the child's process group so helpers the
// backend forked (e.g. uvicorn workers) go down with it.
func terminateProcess(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// killProcess sends SIGKILL to the child's process group.
func killProcess(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EPERM) {
		// no such group (child changed it); fall back to the pid itself
		return p.Signal(sig)
	}
	return err
}
