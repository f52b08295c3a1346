package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags override the serving addresses from the config file.
type RunFlags struct {
	APIListen     string
	BasePath      string
	MetricsListen string
}

type ProbeFlags struct {
	PortOnly bool
	Timeout  time.Duration
}

type ReclaimFlags struct {
	DryRun bool
}

// RemoteFlags select the admin API of a running sidecar.
type RemoteFlags struct {
	API     string
	Timeout time.Duration
	Limit   int
}
