//go:build !windows

package reclaim

import (
	"errors"
	"os/exec"
	"syscall"
)

func killPID(pid int) error {
	err := syscall.Kill(pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func hideWindow(*exec.Cmd) {}
