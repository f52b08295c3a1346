//go:build !windows

package locator

import (
	"runtime"

	sysconf "github.com/tklauser/go-sysconf"
)

// onlineCPUs returns the number of processors currently online.
func onlineCPUs() int {
	n, err := sysconf.Sysconf(sysconf.SC_NPROCESSORS_ONLN)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return int(n)
}
