package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/relay"
	"github.com/loykin/sidecar/internal/supervisor"
)

// Controller is the part of the supervisor the admin API drives.
type Controller interface {
	Launch(ctx context.Context) (supervisor.Result, error)
	Shutdown(ctx context.Context) supervisor.ShutdownReport
	Status() supervisor.Status
}

// Subscriber hands out backend-log streams; relay.Hub implements it.
type Subscriber interface {
	Subscribe(buf int) (<-chan relay.Message, func())
}

// HistoryReader lists recent lifecycle events; history.SQLSink implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// Router provides embeddable HTTP handlers for the supervised backend.
// Endpoints:
//
//	GET  {basePath}/status    current Status
//	POST {basePath}/launch    Launch; 500 when no plan could be spawned
//	POST {basePath}/shutdown  Shutdown report
//	GET  {basePath}/events    server-sent backend-log events
//	GET  {basePath}/history   recent lifecycle events, query: limit=N (max 1000)
//	GET  {basePath}/metrics   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	events   Subscriber
	history  HistoryReader
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// events may be nil, which disables /events.
func NewRouter(ctl Controller, events Subscriber, basePath string) *Router {
	return &Router{ctl: ctl, events: events, basePath: sanitizeBase(basePath)}
}

// WithHistory enables /history backed by h.
func (r *Router) WithHistory(h HistoryReader) *Router {
	r.history = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/launch", r.handleLaunch)
	group.POST("/shutdown", r.handleShutdown)
	group.GET("/events", r.handleEvents)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// There is no write timeout since /events streams for as long as the
// client stays connected.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status())
}

func (r *Router) handleLaunch(c *gin.Context) {
	res, err := r.ctl.Launch(c.Request.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleShutdown(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Shutdown(c.Request.Context()))
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.events == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event stream disabled"})
		return
	}
	ch, cancel := r.events.Subscribe(0)
	defer cancel()
	done := c.Request.Context().Done()
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(io.Writer) bool {
		select {
		case m, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(m.Event, m.Line)
			return true
		case <-done:
			return false
		}
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history disabled"})
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	events, err := r.history.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}
