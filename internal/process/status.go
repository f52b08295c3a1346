package process

import "time"

// Status is a point-in-time copy of the child's lifecycle.
type Status struct {
	PID       int       `json:"pid"`
	Source    Source    `json:"source"`
	Command   string    `json:"command"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"exit_error,omitempty"`
}
