package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/relay"
	"github.com/loykin/sidecar/internal/supervisor"
)

type fakeController struct {
	mu        sync.Mutex
	launchErr error
	launches  int
	shutdowns int
}

func (f *fakeController) Launch(context.Context) (supervisor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	if f.launchErr != nil {
		return supervisor.Result{}, f.launchErr
	}
	return supervisor.Result{PID: 4242, Source: process.SourceBundled, Command: "/res/backend"}, nil
}

func (f *fakeController) Shutdown(context.Context) supervisor.ShutdownReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return supervisor.ShutdownReport{Stopped: true, PID: 4242, Reclaimed: []int{17}}
}

func (f *fakeController) Status() supervisor.Status {
	return supervisor.Status{Running: true, PID: 4242, Host: "127.0.0.1", Port: 54999, Source: process.SourceBundled}
}

type fakeHistory struct {
	limit int
	err   error
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Event, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []history.Event{history.NewEvent(history.EventLaunch, history.Record{PID: 4242, Port: 54999})}, nil
}

func setupRouter(t *testing.T, base string, ctl Controller, events Subscriber) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(ctl, events, base)
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	h := setupRouter(t, "/abc", &fakeController{}, nil).Handler()
	rec := doReq(t, h, http.MethodGet, "/abc/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st supervisor.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Running || st.PID != 4242 || st.Port != 54999 || st.Source != process.SourceBundled {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestLaunchAndShutdown(t *testing.T) {
	ctl := &fakeController{}
	h := setupRouter(t, "", ctl, nil).Handler()

	rec := doReq(t, h, http.MethodPost, "/launch")
	if rec.Code != http.StatusOK {
		t.Fatalf("launch: %d %s", rec.Code, rec.Body.String())
	}
	var res supervisor.Result
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.PID != 4242 || res.Source != process.SourceBundled {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = doReq(t, h, http.MethodPost, "/shutdown")
	if rec.Code != http.StatusOK {
		t.Fatalf("shutdown: %d", rec.Code)
	}
	var rep supervisor.ShutdownReport
	_ = json.Unmarshal(rec.Body.Bytes(), &rep)
	if !rep.Stopped || len(rep.Reclaimed) != 1 || rep.Reclaimed[0] != 17 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if ctl.launches != 1 || ctl.shutdowns != 1 {
		t.Fatalf("calls: launch=%d shutdown=%d", ctl.launches, ctl.shutdowns)
	}
}

func TestLaunchFailure(t *testing.T) {
	ctl := &fakeController{launchErr: fmt.Errorf("%w: python3: not found", supervisor.ErrStartupFatal)}
	h := setupRouter(t, "", ctl, nil).Handler()
	rec := doReq(t, h, http.MethodPost, "/launch")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "backend startup failed") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMethodsAreEnforced(t *testing.T) {
	h := setupRouter(t, "", &fakeController{}, nil).Handler()
	if rec := doReq(t, h, http.MethodGet, "/launch"); rec.Code != http.StatusNotFound {
		t.Fatalf("GET /launch should not route, got %d", rec.Code)
	}
}

func TestEventsDisabled(t *testing.T) {
	h := setupRouter(t, "", &fakeController{}, nil).Handler()
	if rec := doReq(t, h, http.MethodGet, "/events"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEventsStreamsBackendLog(t *testing.T) {
	hub := relay.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(setupRouter(t, "/api", &fakeController{}, hub).Handler())
	defer srv.Close()

	// the subscription races the request; keep emitting until a line arrives.
	// Headers are only flushed with the first event.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tk := time.NewTicker(20 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				hub.Emit(relay.EventName, "model loaded")
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var sawEvent, sawData bool
	for sc.Scan() && !(sawEvent && sawData) {
		line := sc.Text()
		if line == "event:"+relay.EventName {
			sawEvent = true
		}
		if sawEvent && line == "data:model loaded" {
			sawData = true
		}
	}
	if !sawEvent || !sawData {
		t.Fatalf("did not receive backend-log event (event=%v data=%v, err=%v)", sawEvent, sawData, sc.Err())
	}
}

func TestHistory(t *testing.T) {
	h := setupRouter(t, "", &fakeController{}, nil).Handler()
	if rec := doReq(t, h, http.MethodGet, "/history"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without history, got %d", rec.Code)
	}

	fh := &fakeHistory{}
	h = setupRouter(t, "", &fakeController{}, nil).WithHistory(fh).Handler()
	rec := doReq(t, h, http.MethodGet, "/history?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fh.limit != 5 {
		t.Fatalf("limit not forwarded: %d", fh.limit)
	}
	var events []history.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil || len(events) != 1 || events[0].Type != history.EventLaunch {
		t.Fatalf("unexpected events %v (%v)", events, err)
	}

	if rec := doReq(t, h, http.MethodGet, "/history?limit=-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	fh.err = errors.New("db gone")
	if rec := doReq(t, h, http.MethodGet, "/history"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_ = metrics.Register(prometheus.DefaultRegisterer)
	metrics.IncShutdown()
	h := setupRouter(t, "/api", &fakeController{}, nil).Handler()
	rec := doReq(t, h, http.MethodGet, "/api/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sidecar_backend_shutdowns_total") {
		t.Fatalf("metrics output missing shutdowns counter")
	}
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", setupRouter(t, "", &fakeController{}, nil))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if srv.WriteTimeout != 0 {
		t.Fatalf("write timeout would cut event streams: %s", srv.WriteTimeout)
	}
	_ = srv.Close()
}
