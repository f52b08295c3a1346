package process

import "errors"

// ErrNotStarted is returned when an operation needs a spawned child.
var ErrNotStarted = errors.New("process not started")
