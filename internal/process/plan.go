package process

import (
	"errors"
	"os/exec"
	"strings"
)

// Source identifies which launch strategy produced a Plan.
type Source string

const (
	SourceBundled     Source = "bundled"     // precompiled sidecar shipped with the app
	SourceInterpreter Source = "interpreter" // interpreter running the backend module
)

// StdoutPolicy decides what happens to the child's standard output.
// Standard error is always piped for the log relay.
type StdoutPolicy string

const (
	StdoutInherit StdoutPolicy = "inherit" // development: visible for debugging
	StdoutDiscard StdoutPolicy = "discard" // production: dropped
)

// Plan is the resolved launch description for the backend.
// It is built once by the locator and consumed once by New.
type Plan struct {
	Source  Source       `json:"source"`
	Command string       `json:"command"`
	Args    []string     `json:"args"`
	WorkDir string       `json:"work_dir"`
	Env     []string     `json:"env"` // "K=V" entries layered over the parent environment
	Stdout  StdoutPolicy `json:"stdout"`
}

var errEmptyCommand = errors.New("plan has empty command")

// Validate reports whether the plan can be turned into a command.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.Command) == "" {
		return errEmptyCommand
	}
	return nil
}

// Argv returns command and arguments as one slice.
func (p Plan) Argv() []string {
	out := make([]string, 0, len(p.Args)+1)
	out = append(out, p.Command)
	return append(out, p.Args...)
}

// Lookup returns the value of key in the plan environment.
func (p Plan) Lookup(key string) (string, bool) {
	prefix := key + "="
	for _, kv := range p.Env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// BuildCommand constructs an *exec.Cmd without a shell; arguments are passed
// verbatim so paths with spaces survive.
func (p Plan) BuildCommand() *exec.Cmd {
	// ok: command comes from the locator, not from user input
	// #nosec G204
	return exec.Command(p.Command, p.Args...)
}

func (p Plan) String() string { return strings.Join(p.Argv(), " ") }
