package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sidecar/internal/locator"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

// clearEnv blanks every override this package reads so the host
// environment cannot leak into assertions.
func clearEnv(t *testing.T) {
	for _, k := range []string{"HOST", "PORT", "MODE", "PYTHON", "STORE", "THREADS", "PROBE_TIMEOUT", "STOP_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(EnvPrefix+"_"+k, "")
		require.NoError(t, os.Unsetenv(EnvPrefix+"_"+k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "com.refsearch.app", c.AppID)
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 54999, c.Port)
	assert.Equal(t, "production", c.Mode)
	assert.Equal(t, 4, c.Threads)
	assert.Equal(t, 400*time.Millisecond, c.ProbeTimeout)
	assert.Zero(t, c.StopTimeout)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
	assert.Equal(t, 10, c.Log.MaxSizeMB)
	assert.False(t, c.Metrics.Enabled)
	assert.Empty(t, c.History.DSN)
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "sidecar.toml", `
port = 6100
mode = "Development"
python = "/opt/venv/bin/python"
threads = 0
probe_timeout = "250ms"
stop_timeout = "3s"
env = ["HF_HOME=/cache"]

[log]
level = "debug"
format = "json"
relay_file = "/tmp/backend.log"

[history]
dsn = "sqlite:///tmp/h.db"

[metrics]
enabled = true
listen = ":9100"

[server]
listen = "127.0.0.1:7000"
base_path = "/api"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 6100, c.Port)
	assert.Equal(t, "development", c.Mode)
	assert.Equal(t, "/opt/venv/bin/python", c.Python)
	assert.Equal(t, 0, c.Threads)
	assert.Equal(t, 250*time.Millisecond, c.ProbeTimeout)
	assert.Equal(t, 3*time.Second, c.StopTimeout)
	assert.Equal(t, []string{"HF_HOME=/cache"}, c.Env)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "/tmp/backend.log", c.Log.RelayFile)
	assert.Equal(t, "sqlite:///tmp/h.db", c.History.DSN)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, ":9100", c.Metrics.Listen)
	assert.Equal(t, "127.0.0.1:7000", c.Server.Listen)
	assert.Equal(t, "/api", c.Server.BasePath)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "sidecar.toml", "port = 6100\n[log]\nlevel = \"warn\"\n")
	t.Setenv("REFSEARCH_PORT", "6200")
	t.Setenv("REFSEARCH_PYTHON", "/usr/bin/python3.12")
	t.Setenv("REFSEARCH_LOG_LEVEL", "debug")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 6200, c.Port)
	assert.Equal(t, "/usr/bin/python3.12", c.Python)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	cases := map[string]string{
		"port":   "port = 70000\n",
		"mode":   "mode = \"staging\"\n",
		"probe":  "probe_timeout = \"0s\"\n",
		"stop":   "stop_timeout = \"-1s\"\n",
		"thread": "threads = -2\n",
		"format": "[log]\nformat = \"xml\"\n",
		"syntax": "port = [\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.toml", data))
			assert.Error(t, err)
		})
	}
}

func TestLocatorResolvesDirectories(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	store := filepath.Join(root, "store")
	c := &Config{
		AppID: "com.example.test", Host: "127.0.0.1", Port: 6001, Mode: "development",
		ProjectRoot: root, ResourceDir: filepath.Join(root, "res"), Store: store, Threads: 3,
	}
	loc := c.Locator()
	assert.Equal(t, root, loc.ProjectRoot)
	assert.Equal(t, filepath.Join(root, "res"), loc.ResourceDir)
	assert.Equal(t, store, loc.StoreDir)
	assert.DirExists(t, store)
	assert.Equal(t, locator.ModeDevelopment, loc.Mode)
	assert.Equal(t, 6001, loc.Port)
	assert.Equal(t, 3, loc.Threads)
}

func TestGlobalEnv(t *testing.T) {
	dotenv := writeFile(t, ".env", "A=1\n#comment\nB=two\nnot-a-pair\n")
	c := &Config{EnvFiles: []string{dotenv}, Env: []string{"B=three", "C=${A}-x"}}
	got, err := c.GlobalEnv()
	require.NoError(t, err)
	// references are left for the child environment merge to expand
	assert.Equal(t, []string{"A=1", "B=three", "C=${A}-x"}, got)

	c.EnvFiles = []string{filepath.Join(t.TempDir(), "nope.env")}
	_, err = c.GlobalEnv()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	p := writeFile(t, ".env", " X = y \n\n# skip\nZ=\n")
	got, err := LoadEnvFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"X=y", "Z="}, got)
}
