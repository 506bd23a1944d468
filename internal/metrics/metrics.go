// Package metrics exposes supervisor counters and gauges for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipesup"

// Recorder holds the supervisor's metrics on its own registry. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	phaseDuration   *prometheus.HistogramVec
	phaseResults    *prometheus.CounterVec
	iterations      prometheus.Counter
	progress        *prometheus.CounterVec
	breakerState    prometheus.Gauge
	noProgressCount prometheus.Gauge
	reclaimed       *prometheus.CounterVec
	heartbeats      *prometheus.CounterVec
	publishes       *prometheus.CounterVec
}

// New registers the supervisor metrics on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// phaseDuration measures wall time per phase run.
		// Labels: phase, cause
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "duration_seconds",
			Help:      "Wall time of phase runs in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 600, 1200, 1800, 2700, 3600},
		}, []string{"phase", "cause"}),

		phaseResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "results_total",
			Help:      "Phase runs by termination cause and exit status",
		}, []string{"phase", "cause", "status"}),

		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Completed pipeline iterations",
		}),

		progress: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "progress_total",
			Help:      "Iterations by whether the workspace changed",
		}, []string{"progress"}),

		// breakerState is 0 closed, 1 half-open, 2 open.
		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		noProgressCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "no_progress_iterations",
			Help:      "Consecutive iterations without workspace changes",
		}),

		reclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reclaim",
			Name:      "processes_total",
			Help:      "Processes killed by the resource reclaimer",
		}, []string{"reason"}),

		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "beats_total",
			Help:      "Heartbeats observed from workers",
		}, []string{"agent"}),

		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "publishes_total",
			Help:      "Workspace publish attempts by outcome",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry backing r.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObservePhase records one finished phase run.
func (r *Recorder) ObservePhase(phase, cause string, succeeded bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !succeeded {
		status = "failure"
	}
	r.phaseDuration.WithLabelValues(phase, cause).Observe(elapsed.Seconds())
	r.phaseResults.WithLabelValues(phase, cause, status).Inc()
}

// ObserveIteration records a completed iteration and the breaker's view of it.
func (r *Recorder) ObserveIteration(progress bool, breakerState, noProgressCount int) {
	if r == nil {
		return
	}
	r.iterations.Inc()
	label := "false"
	if progress {
		label = "true"
	}
	r.progress.WithLabelValues(label).Inc()
	r.breakerState.Set(float64(breakerState))
	r.noProgressCount.Set(float64(noProgressCount))
}

// ObserveReclaim counts one reclaimed process.
func (r *Recorder) ObserveReclaim(reason string) {
	if r == nil {
		return
	}
	r.reclaimed.WithLabelValues(reason).Inc()
}

// ObserveHeartbeat counts one heartbeat from agent.
func (r *Recorder) ObserveHeartbeat(agent string) {
	if r == nil {
		return
	}
	r.heartbeats.WithLabelValues(agent).Inc()
}

// ObservePublish counts a publish attempt. outcome is one of "skipped",
// "committed", "pushed" or "failed".
func (r *Recorder) ObservePublish(outcome string) {
	if r == nil {
		return
	}
	r.publishes.WithLabelValues(outcome).Inc()
}
