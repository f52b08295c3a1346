package locator

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sidecar/internal/process"
)

func newLocator(t *testing.T) Locator {
	t.Helper()
	return Locator{
		ResourceDir: t.TempDir(),
		ProjectRoot: t.TempDir(),
		Host:        "127.0.0.1",
		Port:        54999,
		StoreDir:    t.TempDir(),
		Threads:     DefaultThreads,
		Mode:        ModeProduction,
	}
}

func installBundled(t *testing.T, l Locator) string {
	t.Helper()
	p := l.BundledPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
	return p
}

func TestFallbackWhenBundledAbsent(t *testing.T) {
	t.Setenv(EnvPython, "")
	l := newLocator(t)

	plans := l.Plans()
	require.Len(t, plans, 1)
	p := plans[0]
	assert.Equal(t, process.SourceInterpreter, p.Source)
	assert.Equal(t, []string{
		"python3", "-m", "uvicorn", "core.server:app",
		"--host", "127.0.0.1", "--port", "54999", "--no-access-log",
	}, p.Argv())
	assert.Equal(t, l.ProjectRoot, p.WorkDir)

	store, ok := p.Lookup(EnvStore)
	assert.True(t, ok)
	assert.Equal(t, l.StoreDir, store)
	_, hasThreads := p.Lookup("OMP_NUM_THREADS")
	assert.False(t, hasThreads, "thread hints are for the bundled backend")
}

func TestFallbackHonorsInterpreterOverrideEnv(t *testing.T) {
	t.Setenv(EnvPython, "/opt/venv/bin/python")
	l := newLocator(t)
	p := l.Plans()[0]
	assert.Equal(t, "/opt/venv/bin/python", p.Command)

	// explicit configuration wins over the environment
	l.Python = "python3.12"
	assert.Equal(t, "python3.12", l.Fallback().Command)
}

func TestBundledPreferredRegardlessOfOverride(t *testing.T) {
	t.Setenv(EnvPython, "/opt/venv/bin/python")
	l := newLocator(t)
	l.Python = "python3.12"
	path := installBundled(t, l)

	plans := l.Plans()
	require.Len(t, plans, 2)
	b := plans[0]
	assert.Equal(t, process.SourceBundled, b.Source)
	assert.Equal(t, path, b.Command)
	assert.Empty(t, b.Args)
	for k, want := range map[string]string{
		EnvHost:           "127.0.0.1",
		EnvPort:           "54999",
		EnvStore:          l.StoreDir,
		"OMP_NUM_THREADS": "4",
		"MKL_NUM_THREADS": "4",
	} {
		got, ok := b.Lookup(k)
		assert.True(t, ok, k)
		assert.Equal(t, want, got, k)
	}
	assert.Equal(t, process.SourceInterpreter, plans[1].Source)
}

func TestBundledDirectoryIsIgnored(t *testing.T) {
	l := newLocator(t)
	require.NoError(t, os.MkdirAll(l.BundledPath(), 0o755))
	assert.False(t, l.HasBundled())
	assert.Len(t, l.Plans(), 1)
}

func TestNoResourceDirMeansNoBundled(t *testing.T) {
	l := newLocator(t)
	l.ResourceDir = ""
	assert.False(t, l.HasBundled())
}

func TestBundledNameIsPlatformSpecific(t *testing.T) {
	l := Locator{ResourceDir: "res", GOOS: "windows", GOARCH: "amd64"}
	assert.Equal(t, filepath.Join("res", "binaries", "refsearch-backend-windows-amd64.exe"), l.BundledPath())
	l.GOOS, l.GOARCH = "darwin", "arm64"
	assert.Equal(t, filepath.Join("res", "binaries", "refsearch-backend-darwin-arm64"), l.BundledPath())
}

func TestStdoutPolicyFollowsMode(t *testing.T) {
	l := newLocator(t)
	assert.Equal(t, process.StdoutDiscard, l.Fallback().Stdout)
	l.Mode = ModeDevelopment
	assert.Equal(t, process.StdoutInherit, l.Fallback().Stdout)
	assert.Equal(t, process.StdoutInherit, l.Bundled().Stdout)
}

func TestThreadsAutoUsesOnlineCPUs(t *testing.T) {
	l := newLocator(t)
	l.Threads = 0
	v, ok := l.Bundled().Lookup("MKL_NUM_THREADS")
	require.True(t, ok)
	n, err := strconv.Atoi(v)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestResolveStoreDirOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	got := ResolveStoreDir(dir, "com.refsearch.app", "/project")
	assert.Equal(t, dir, got)
	fi, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestResolveStoreDirAppData(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is linux-specific")
	}
	xdg := t.TempDir()
	t.Setenv("XDG_DATA_HOME", xdg)
	got := ResolveStoreDir("", "com.refsearch.app", "/project")
	assert.Equal(t, filepath.Join(xdg, "com.refsearch.app"), got)
	_, err := os.Stat(got)
	assert.NoError(t, err)
}

func TestResolveStoreDirFallsBackToProjectRoot(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, root, ResolveStoreDir("", "", root))
}

func TestDefaultProjectRootStepsOutOfSrcTauri(t *testing.T) {
	base := t.TempDir()
	tauri := filepath.Join(base, "src-tauri")
	require.NoError(t, os.MkdirAll(tauri, 0o755))
	t.Chdir(tauri)
	got, err := filepath.EvalSymlinks(DefaultProjectRoot())
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(base)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestThreadEnvNames(t *testing.T) {
	assert.True(t, slices.Contains(threadEnvs, "OMP_NUM_THREADS"))
	assert.True(t, slices.Contains(threadEnvs, "MKL_NUM_THREADS"))
}
