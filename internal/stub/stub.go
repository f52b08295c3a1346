// Package stub is a stand-in for the real backend. It reads the same
// environment the supervisor exports and serves the readiness endpoint, so
// the launch and shutdown paths can be exercised without the real server.
package stub

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loykin/sidecar/internal/detector"
	"github.com/loykin/sidecar/internal/locator"
)

// Config is what the stub learns from its environment.
type Config struct {
	Host   string
	Port   int
	Store  string
	Logger *slog.Logger
}

// ConfigFromEnv reads REFSEARCH_HOST, REFSEARCH_PORT and REFSEARCH_STORE,
// defaulting to the supervisor's defaults. Diagnostics go to stderr, which
// is the stream the supervisor relays.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:   locator.DefaultHost,
		Port:   locator.DefaultPort,
		Store:  os.Getenv(locator.EnvStore),
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	if v := os.Getenv(locator.EnvHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(locator.EnvPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	return cfg
}

// Addr returns host:port.
func (c Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

type readyResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
	Store  string `json:"store,omitempty"`
}

// NewEcho builds the stub's router.
func NewEcho(cfg Config) *echo.Echo {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			log.Info("request", "method", c.Request().Method, "path", c.Path(), "status", c.Response().Status)
			return err
		}
	})
	e.GET(detector.ReadyPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, readyResponse{Status: "ready", PID: os.Getpid(), Store: cfg.Store})
	})
	return e
}

// Run serves until ctx is done, then shuts the server down gracefully.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	e := NewEcho(cfg)
	e.Listener = ln
	log.Info("backend listening", "addr", ln.Addr().String(), "store", cfg.Store, "pid", os.Getpid())

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start("") }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("backend shutting down")
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
