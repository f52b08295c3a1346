// Package sidecar supervises the local backend server of a desktop shell.
// The host calls App.OnStartup from its setup hook and App.OnWindowClose /
// App.OnExit from its close and exit hooks; everything else is optional.
package sidecar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sidecar/internal/config"
	"github.com/loykin/sidecar/internal/env"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/logger"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/relay"
	iapi "github.com/loykin/sidecar/internal/server"
	"github.com/loykin/sidecar/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Status = supervisor.Status

type Result = supervisor.Result

type ShutdownReport = supervisor.ShutdownReport

type Emitter = relay.Emitter

type EmitterFunc = relay.EmitterFunc

type Message = relay.Message

// EventBackendLog is the event name carrying one backend diagnostic line.
const EventBackendLog = relay.EventName

// ErrStartupFatal is returned by OnStartup when the backend could not be
// spawned by any means.
var ErrStartupFatal = supervisor.ErrStartupFatal

type options struct {
	emitter Emitter
	logger  *slog.Logger
	out     io.Writer
	stdout  io.Writer
}

// Option customizes New.
type Option func(*options)

// WithEmitter delivers backend-log events to the host's event channel.
func WithEmitter(e Emitter) Option { return func(o *options) { o.emitter = e } }

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithOutput sets where relayed lines are echoed locally (default stdout).
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// WithChildStdout sets the backend's stdout in development mode.
func WithChildStdout(w io.Writer) Option { return func(o *options) { o.stdout = w } }

// App wires a configuration into a running supervisor.
type App struct {
	cfg     *Config
	sup     *supervisor.Supervisor
	hub     *relay.Hub
	hist    history.Store
	log     *slog.Logger
	closers []io.Closer
}

// New builds an App from c. Nothing is launched until OnStartup.
func New(c *Config, opts ...Option) (*App, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	a := &App{cfg: c, hub: relay.NewHub()}

	a.log = o.logger
	if a.log == nil {
		l, closer := logger.New(logger.Config{
			Level:  c.Log.Level,
			Format: c.Log.Format,
			File:   fileConfig(c.Log, c.Log.File),
		})
		a.log = l
		a.closers = append(a.closers, closer)
	}

	globalEnv, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}
	e := env.New()
	for _, kv := range globalEnv {
		if k, v, ok := strings.Cut(kv, "="); ok {
			e.Set(k, v)
		}
	}

	sopts := supervisor.Options{
		Locator:      c.Locator(),
		ProbeTimeout: c.ProbeTimeout,
		StopTimeout:  c.StopTimeout,
		Emitter:      relay.Emitters{a.hub, o.emitter},
		Out:          o.out,
		Stdout:       o.stdout,
		Env:          e,
		Logger:       a.log,
	}
	if w := fileConfig(c.Log, c.Log.RelayFile).Writer(); w != nil {
		sopts.Mirror = w
		a.closers = append(a.closers, w)
	}
	if c.History.DSN != "" {
		sink, err := history.Open(c.History.DSN)
		if err != nil {
			a.log.Warn("History disabled", "error", err)
		} else {
			a.hist = sink
			sopts.History = sink
			a.closers = append(a.closers, sink)
		}
	}
	a.sup = supervisor.New(sopts)
	return a, nil
}

func fileConfig(l cfg.LogConfig, path string) logger.FileConfig {
	return logger.FileConfig{
		Path:       path,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// OnStartup is the host's setup hook. A non-nil error means the backend
// could not be started and the host should abort.
func (a *App) OnStartup(ctx context.Context) error {
	_, err := a.sup.Launch(ctx)
	return err
}

// OnWindowClose is the host's close-requested hook.
func (a *App) OnWindowClose() { a.sup.Shutdown(context.Background()) }

// OnExit is the host's exit and destroy hook.
func (a *App) OnExit() { a.sup.Shutdown(context.Background()) }

func (a *App) Launch(ctx context.Context) (Result, error)  { return a.sup.Launch(ctx) }
func (a *App) Shutdown(ctx context.Context) ShutdownReport { return a.sup.Shutdown(ctx) }
func (a *App) Status() Status                              { return a.sup.Status() }
func (a *App) Logger() *slog.Logger                        { return a.log }

// Subscribe streams backend-log events to a new subscriber.
func (a *App) Subscribe(buf int) (<-chan Message, func()) { return a.hub.Subscribe(buf) }

// Handler returns the admin API mounted under basePath.
func (a *App) Handler(basePath string) http.Handler {
	r := iapi.NewRouter(a.sup, a.hub, basePath)
	if a.hist != nil {
		r.WithHistory(a.hist)
	}
	return r.Handler()
}

// Close releases log files, the history database and event subscribers.
// It does not stop the backend; call Shutdown or OnExit first.
func (a *App) Close() error {
	a.hub.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// LoadConfig reads a TOML file (optional, "" for none) plus REFSEARCH_*
// environment overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the admin API of a.
func NewHTTPServer(addr, basePath string, a *App) (*http.Server, error) {
	r := iapi.NewRouter(a.sup, a.hub, basePath)
	if a.hist != nil {
		r.WithHistory(a.hist)
	}
	return iapi.NewServer(addr, r)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
