package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/loykin/sidecar"
	"github.com/loykin/sidecar/internal/detector"
	"github.com/loykin/sidecar/internal/reclaim"
)

var errNotHealthy = errors.New("backend not healthy")

// command implements the CLI verbs; cobra only parses flags.
type command struct {
	global *GlobalFlags
}

func (c command) config() (*sidecar.Config, error) {
	return sidecar.LoadConfig(c.global.ConfigPath)
}

// Run launches the backend and blocks until SIGINT/SIGTERM.
func (c command) Run(ctx context.Context, f RunFlags) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	if f.APIListen != "" {
		cfg.Server.Listen = f.APIListen
	}
	if f.BasePath != "" {
		cfg.Server.BasePath = f.BasePath
	}
	if f.MetricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = f.MetricsListen
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := sidecar.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	log := app.Logger()

	if cfg.Metrics.Enabled {
		if err := sidecar.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := sidecar.ServeMetrics(cfg.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server failed", "addr", cfg.Metrics.Listen, "error", err)
				}
			}()
		}
	}
	if cfg.Server.Listen != "" {
		srv, err := sidecar.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, app)
		if err != nil {
			return err
		}
		log.Info("Admin API listening", "addr", cfg.Server.Listen, "base", cfg.Server.BasePath)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := app.OnStartup(ctx); err != nil {
		app.OnExit()
		return err
	}
	st := app.Status()
	if st.Running {
		log.Info("Supervising backend", "pid", st.PID, "source", st.Source, "port", st.Port)
	}

	<-ctx.Done()
	log.Info("Shutting down")
	rep := app.Shutdown(context.Background())
	log.Info("Shutdown complete", "stopped", rep.Stopped, "pid", rep.PID, "reclaimed", rep.Reclaimed)
	return nil
}

// Probe prints whether a backend answers on the configured port.
func (c command) Probe(w io.Writer, f ProbeFlags) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = cfg.ProbeTimeout
	}
	var d detector.Detector = detector.NewHTTPDetector(cfg.Host, cfg.Port, timeout)
	if f.PortOnly {
		d = detector.PortDetector{Port: cfg.Port, Timeout: timeout}
	}
	ok, err := d.Alive()
	if ok && err == nil {
		_, _ = fmt.Fprintf(w, "healthy (%s)\n", d.Describe())
		return nil
	}
	if err != nil {
		_, _ = fmt.Fprintf(w, "not healthy (%s): %v\n", d.Describe(), err)
	} else {
		_, _ = fmt.Fprintf(w, "not healthy (%s)\n", d.Describe())
	}
	return errNotHealthy
}

// Plan prints the launch plans as JSON.
func (c command) Plan(w io.Writer) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg.Locator().Plans())
}

// Reclaim kills, or with DryRun lists, the listeners of the backend port.
func (c command) Reclaim(ctx context.Context, w io.Writer, f ReclaimFlags) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if f.DryRun {
		pids, err := detector.ListeningPIDs(ctx, cfg.Port, 5*time.Second)
		if err != nil {
			return err
		}
		if len(pids) == 0 {
			_, _ = fmt.Fprintf(w, "no listeners on port %d\n", cfg.Port)
			return nil
		}
		_, _ = fmt.Fprintf(w, "listening on port %d: %v\n", cfg.Port, pids)
		return nil
	}
	r := reclaim.ForOS(runtime.GOOS)
	pids, err := r.Reclaim(ctx, cfg.Port)
	if err != nil {
		return fmt.Errorf("reclaim port %d: %w", cfg.Port, err)
	}
	_, _ = fmt.Fprintf(w, "reclaimed port %d: killed %v\n", cfg.Port, pids)
	return nil
}
