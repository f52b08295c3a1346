//go:build windows

package reclaim

import (
	"os"
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

func killPID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// hideWindow keeps netstat and taskkill from flashing a console.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
}
