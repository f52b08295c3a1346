//go:build windows

package locator

import "runtime"

func onlineCPUs() int { return runtime.NumCPU() }
