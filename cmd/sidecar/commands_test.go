package main

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/loykin/sidecar/internal/process"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sidecar.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"REFSEARCH_HOST", "REFSEARCH_PORT", "REFSEARCH_PYTHON", "REFSEARCH_MODE"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestHelp(t *testing.T) {
	out, err := execRoot(t, "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, want := range []string{"sidecar", "run", "probe", "plan", "reclaim", "--config"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q: %s", want, out)
		}
	}
}

func TestPlanPrintsInterpreterFallback(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, `
port = 6123
python = "/opt/py/bin/python"
project_root = "`+filepath.ToSlash(dir)+`"
resource_dir = "`+filepath.ToSlash(filepath.Join(dir, "res"))+`"
store = "`+filepath.ToSlash(filepath.Join(dir, "store"))+`"
`)
	out, err := execRoot(t, "--config", cfg, "plan")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var plans []process.Plan
	if err := json.Unmarshal([]byte(out), &plans); err != nil {
		t.Fatalf("plan output not JSON: %v\n%s", err, out)
	}
	if len(plans) != 1 || plans[0].Source != process.SourceInterpreter {
		t.Fatalf("expected only the interpreter plan, got %+v", plans)
	}
	if plans[0].Command != "/opt/py/bin/python" || !strings.Contains(strings.Join(plans[0].Args, " "), "--port 6123") {
		t.Fatalf("unexpected plan %+v", plans[0])
	}
}

func readyServer(t *testing.T, code int) (host string, port int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ready" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	h, p, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	port, _ = strconv.Atoi(p)
	return h, port
}

func TestProbeHealthy(t *testing.T) {
	clearEnv(t)
	host, port := readyServer(t, http.StatusOK)
	t.Setenv("REFSEARCH_HOST", host)
	t.Setenv("REFSEARCH_PORT", strconv.Itoa(port))
	out, err := execRoot(t, "probe")
	if err != nil {
		t.Fatalf("probe: %v (%s)", err, out)
	}
	if !strings.HasPrefix(out, "healthy") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestProbeUnhealthyStatus(t *testing.T) {
	clearEnv(t)
	host, port := readyServer(t, http.StatusServiceUnavailable)
	t.Setenv("REFSEARCH_HOST", host)
	t.Setenv("REFSEARCH_PORT", strconv.Itoa(port))
	out, err := execRoot(t, "probe")
	if err == nil {
		t.Fatalf("expected error for 503, got output %q", out)
	}
	if !strings.Contains(out, "not healthy") || !strings.Contains(out, "status=503") {
		t.Fatalf("unexpected output %q", out)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestReclaimDryRunNoListeners(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("socket table inspection exercised on linux only")
	}
	clearEnv(t)
	port := freePort(t)
	t.Setenv("REFSEARCH_PORT", strconv.Itoa(port))
	out, err := execRoot(t, "reclaim", "--dry-run")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !strings.Contains(out, "no listeners on port "+strconv.Itoa(port)) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBadConfigFails(t *testing.T) {
	clearEnv(t)
	cfg := writeConfig(t, "port = 0\n")
	if _, err := execRoot(t, "--config", cfg, "plan"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStatusAgainstAdminAPI(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"running":true,"pid":77,"host":"127.0.0.1","port":54999,"skipped":false}`))
	}))
	defer srv.Close()

	out, err := execRoot(t, "status", "--api", srv.URL+"/api")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"pid": 77`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRemoteCommandsNeedAPI(t *testing.T) {
	clearEnv(t)
	t.Setenv("REFSEARCH_SERVER_LISTEN", "")
	_, err := execRoot(t, "status")
	if err == nil || !strings.Contains(err.Error(), "admin API not configured") {
		t.Fatalf("expected errNoAPI, got %v", err)
	}
}
