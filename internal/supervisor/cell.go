package supervisor

import (
	"sync"

	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/relay"
)

// slot is what the Cell tracks for one spawned backend.
type slot struct {
	proc  *process.Process
	relay *relay.Relay
}

// Cell holds the handle of the backend this supervisor spawned, if any.
// One mutex guards it; there is no read/write distinction.
type Cell struct {
	mu sync.Mutex
	s  slot
}

// Take returns the handle and leaves the Cell empty.
func (c *Cell) Take() (*process.Process, *relay.Relay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.s
	c.s = slot{}
	return s.proc, s.relay
}

// Peek returns the handle without clearing it.
func (c *Cell) Peek() *process.Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.proc
}

// Running reports whether a handle is present.
func (c *Cell) Running() bool { return c.Peek() != nil }

// update runs fn with the lock held. fn may replace the slot contents.
func (c *Cell) update(fn func(s *slot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.s)
}

// exited reports whether the relay of s has seen end of stream, which
// happens once the child and everything holding its stderr are gone.
func (s slot) exited() bool {
	if s.relay == nil {
		return false
	}
	select {
	case <-s.relay.Done():
		return true
	default:
		return false
	}
}
