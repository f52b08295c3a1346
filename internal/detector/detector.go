package detector

// Detector is a strategy that determines if the backend is running.
// Implementations may issue an HTTP readiness request or inspect the
// listening sockets of the host. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the backend is detected as running.
	// A non-nil error always comes with false; callers treat both the same.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Func adapts a plain function to the Detector interface.
type Func func() (bool, error)

func (f Func) Alive() (bool, error) { return f() }
func (f Func) Describe() string     { return "func" }
