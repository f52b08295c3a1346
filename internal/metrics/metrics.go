package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "launches_total",
			Help:      "Number of successful backend spawns by launch source.",
		}, []string{"source"},
	)
	launchSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "launch_skips_total",
			Help:      "Launches skipped because a backend already answered the readiness probe.",
		},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "launch_failures_total",
			Help:      "Spawn attempts that failed, by launch source.",
		}, []string{"source"},
	)
	shutdowns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "shutdowns_total",
			Help:      "Number of shutdown sequences run.",
		},
	)
	reclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "reclaimed_total",
			Help:      "Processes forcefully terminated by the port sweep, by strategy.",
		}, []string{"strategy"},
	)
	relayLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "relay_lines_total",
			Help:      "Diagnostic lines relayed from the backend.",
		},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "probes_total",
			Help:      "Readiness probes by result (healthy, unhealthy).",
		}, []string{"result"},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sidecar",
			Subsystem: "backend",
			Name:      "running",
			Help:      "1 while the supervisor tracks a spawned backend, else 0.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, launchSkips, launchFailures, shutdowns, reclaimed, relayLines, probes, running}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(source string) {
	if regOK.Load() {
		launches.WithLabelValues(source).Inc()
	}
}

func IncLaunchSkip() {
	if regOK.Load() {
		launchSkips.Inc()
	}
}

func IncLaunchFailure(source string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(source).Inc()
	}
}

func IncShutdown() {
	if regOK.Load() {
		shutdowns.Inc()
	}
}

func AddReclaimed(strategy string, n int) {
	if regOK.Load() && n > 0 {
		reclaimed.WithLabelValues(strategy).Add(float64(n))
	}
}

func IncRelayLine() {
	if regOK.Load() {
		relayLines.Inc()
	}
}

func ObserveProbe(healthy bool) {
	if !regOK.Load() {
		return
	}
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	probes.WithLabelValues(result).Inc()
}

func SetRunning(v bool) {
	if regOK.Load() {
		var value float64
		if v {
			value = 1
		}
		running.Set(value)
	}
}
