package client

import "time"

// Status mirrors GET /status.
type Status struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Source    string    `json:"source,omitempty"`
	Command   string    `json:"command,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Skipped   bool      `json:"skipped"`
}

// LaunchResult mirrors POST /launch.
type LaunchResult struct {
	Skipped bool   `json:"skipped"`
	Reused  bool   `json:"reused"`
	PID     int    `json:"pid,omitempty"`
	Source  string `json:"source,omitempty"`
	Command string `json:"command,omitempty"`
}

// ShutdownReport mirrors POST /shutdown.
type ShutdownReport struct {
	Stopped   bool   `json:"stopped"`
	PID       int    `json:"pid,omitempty"`
	ExitErr   string `json:"exit_error,omitempty"`
	Reclaimed []int  `json:"reclaimed,omitempty"`
	SweepErr  string `json:"sweep_error,omitempty"`
}

// HistoryEvent is one row of GET /history.
type HistoryEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     struct {
		PID     int    `json:"pid"`
		Port    int    `json:"port"`
		Source  string `json:"source,omitempty"`
		Command string `json:"command,omitempty"`
		Detail  string `json:"detail,omitempty"`
	} `json:"record"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
