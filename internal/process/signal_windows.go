//go:build windows

package process

import "os"

// terminateProcess on Windows uses TerminateProcess, as there is no SIGTERM.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
