// Package metrics provides Prometheus metrics and HTTP middleware for the
// repair service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nstogner/autofix/pkg/runner"
)

// RunBuckets suit whole repair runs, from a passing probe to a full budget
// of slow model calls.
var RunBuckets = []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600}

var (
	// RequestsTotal counts HTTP requests by method, route pattern and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autofix_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: RunBuckets,
		},
		[]string{"method", "route"},
	)

	// EventStreams tracks open websocket event streams.
	EventStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autofix_event_streams_active",
			Help: "Active websocket event streams",
		},
	)

	// RunsActive tracks repair runs in progress.
	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autofix_runs_active",
			Help: "Repair runs in progress",
		},
	)

	// RunsTotal counts finished runs by terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_runs_total",
			Help: "Finished repair runs",
		},
		[]string{"status"},
	)

	// RunIterations records how many repair iterations finished runs used.
	RunIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autofix_run_iterations",
			Help:    "Repair iterations per finished run",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 15, 20},
		},
	)

	// ModelResponsesTotal counts model answers received.
	ModelResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autofix_model_responses_total",
			Help: "Model responses received",
		},
	)

	// SandboxExecutionsTotal counts sandbox executions by result.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_sandbox_executions_total",
			Help: "Sandbox executions",
		},
		[]string{"result"},
	)

	// SandboxDuration records sandbox execution wall time in seconds.
	SandboxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autofix_sandbox_duration_seconds",
			Help:    "Sandbox execution duration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		EventStreams,
		RunsActive,
		RunsTotal,
		RunIterations,
		ModelResponsesTotal,
		SandboxExecutionsTotal,
		SandboxDuration,
	)
}

// Observer updates run metrics from runner events.
type Observer struct {
	mu      sync.Mutex
	started map[string]bool
}

var _ runner.Observer = (*Observer)(nil)

func NewObserver() *Observer {
	return &Observer{started: map[string]bool{}}
}

func (o *Observer) OnEvent(e runner.Event) {
	switch e.Type {
	case runner.EventRunStarted:
		o.mu.Lock()
		o.started[e.RunID] = true
		o.mu.Unlock()
		RunsActive.Inc()
	case runner.EventProbeCompleted, runner.EventExecutionCompleted:
		if e.Result == nil {
			return
		}
		result := "pass"
		switch {
		case e.Result.TimedOut:
			result = "timeout"
		case e.Result.ExitCode != 0:
			result = "fail"
		}
		SandboxExecutionsTotal.WithLabelValues(result).Inc()
		SandboxDuration.Observe(e.Result.Duration.Seconds())
	case runner.EventModelResponded:
		ModelResponsesTotal.Inc()
	case runner.EventRunSucceeded, runner.EventRunExhausted, runner.EventRunAborted:
		o.mu.Lock()
		if o.started[e.RunID] {
			delete(o.started, e.RunID)
			RunsActive.Dec()
		}
		o.mu.Unlock()

		status := "aborted"
		switch e.Type {
		case runner.EventRunSucceeded:
			status = string(runner.StatusSuccess)
		case runner.EventRunExhausted:
			status = string(runner.StatusFailed)
		}
		RunsTotal.WithLabelValues(status).Inc()
		if e.Type != runner.EventRunAborted {
			RunIterations.Observe(float64(e.Iteration))
		}
	}
}
