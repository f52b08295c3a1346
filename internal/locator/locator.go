package locator

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/loykin/sidecar/internal/process"
)

// Environment variables understood by the backend.
const (
	EnvHost   = "REFSEARCH_HOST"
	EnvPort   = "REFSEARCH_PORT"
	EnvStore  = "REFSEARCH_STORE"
	EnvPython = "REFSEARCH_PYTHON" // consumed here: interpreter override
)

// Thread-count hints exported to the bundled backend.
var threadEnvs = []string{"OMP_NUM_THREADS", "MKL_NUM_THREADS", "OPENBLAS_NUM_THREADS", "NUMEXPR_NUM_THREADS"}

const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 54999
	DefaultPython  = "python3"
	DefaultThreads = 4
	// BackendModule is the ASGI app the interpreter fallback serves.
	BackendModule = "core.server:app"
	bundledBase   = "refsearch-backend"
	bundledDir    = "binaries"
)

// Mode is the build flavour of the hosting application.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Locator resolves how the backend is launched.
type Locator struct {
	ResourceDir string // where bundled binaries live
	ProjectRoot string // interpreter working directory
	Python      string // interpreter override; empty falls back to $REFSEARCH_PYTHON then python3
	Host        string
	Port        int
	StoreDir    string
	Threads     int // <= 0 selects the number of online CPUs
	Mode        Mode
	GOOS        string // empty selects runtime.GOOS
	GOARCH      string // empty selects runtime.GOARCH
}

func (l Locator) goos() string {
	if l.GOOS != "" {
		return l.GOOS
	}
	return runtime.GOOS
}

func (l Locator) goarch() string {
	if l.GOARCH != "" {
		return l.GOARCH
	}
	return runtime.GOARCH
}

// BundledPath returns where the platform-specific sidecar binary is expected.
func (l Locator) BundledPath() string {
	name := bundledBase + "-" + l.goos() + "-" + l.goarch()
	if l.goos() == "windows" {
		name += ".exe"
	}
	return filepath.Join(l.ResourceDir, bundledDir, name)
}

// HasBundled reports whether the bundled binary is present as a regular file.
func (l Locator) HasBundled() bool {
	if l.ResourceDir == "" {
		return false
	}
	fi, err := os.Stat(l.BundledPath())
	return err == nil && fi.Mode().IsRegular()
}

// Interpreter returns the interpreter command for the fallback plan.
func (l Locator) Interpreter() string {
	if l.Python != "" {
		return l.Python
	}
	if v := os.Getenv(EnvPython); v != "" {
		return v
	}
	return DefaultPython
}

func (l Locator) stdout() process.StdoutPolicy {
	if l.Mode == ModeDevelopment {
		return process.StdoutInherit
	}
	return process.StdoutDiscard
}

func (l Locator) threads() int {
	if l.Threads > 0 {
		return l.Threads
	}
	return onlineCPUs()
}

func (l Locator) baseEnv() []string {
	return []string{
		EnvHost + "=" + l.Host,
		EnvPort + "=" + strconv.Itoa(l.Port),
		EnvStore + "=" + l.StoreDir,
	}
}

// Bundled returns the plan running the sidecar binary directly.
func (l Locator) Bundled() process.Plan {
	env := l.baseEnv()
	n := strconv.Itoa(l.threads())
	for _, k := range threadEnvs {
		env = append(env, k+"="+n)
	}
	return process.Plan{
		Source:  process.SourceBundled,
		Command: l.BundledPath(),
		WorkDir: l.ResourceDir,
		Env:     env,
		Stdout:  l.stdout(),
	}
}

// Fallback returns the plan running the backend module under the interpreter.
func (l Locator) Fallback() process.Plan {
	return process.Plan{
		Source:  process.SourceInterpreter,
		Command: l.Interpreter(),
		Args: []string{
			"-m", "uvicorn", BackendModule,
			"--host", l.Host,
			"--port", strconv.Itoa(l.Port),
			"--no-access-log",
		},
		WorkDir: l.ProjectRoot,
		Env:     l.baseEnv(),
		Stdout:  l.stdout(),
	}
}

// Plans returns launch candidates in priority order: the bundled binary
// when present, then the interpreter fallback.
func (l Locator) Plans() []process.Plan {
	plans := make([]process.Plan, 0, 2)
	if l.HasBundled() {
		plans = append(plans, l.Bundled())
	}
	return append(plans, l.Fallback())
}
