package history

import (
	"context"
	"strings"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch       EventType = "launch"        // a backend was spawned
	EventSkip         EventType = "skip"          // a healthy backend already answered
	EventStop         EventType = "stop"          // the tracked backend was terminated
	EventReclaim      EventType = "reclaim"       // the port sweep killed listeners
	EventLaunchFailed EventType = "launch_failed" // no plan could be spawned
)

// Record describes the backend at the time of an event.
type Record struct {
	PID     int    `json:"pid"`
	Port    int    `json:"port"`
	Source  string `json:"source,omitempty"`
	Command string `json:"command,omitempty"`
	Detail  string `json:"detail,omitempty"` // exit status, reclaimed pids or failure text
}

// Event represents a lifecycle event appended to the history.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, rec Record) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Store is a Sink that can also list what it recorded.
type Store interface {
	Sink
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Open picks the backend from the DSN scheme: clickhouse:// goes to
// ClickHouse, everything else to the SQL sink.
func Open(dsn string) (Store, error) {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(d), "clickhouse://") {
		s, err := NewClickHouseSink(d)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := NewSQLSinkFromDSN(d)
	if err != nil {
		return nil, err
	}
	return s, nil
}
