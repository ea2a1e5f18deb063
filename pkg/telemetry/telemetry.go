// Package telemetry exposes the process-wide Prometheus instruments behind
// the API server's /metrics endpoint. Per-session quality scoring lives in
// pkg/metrics; the instruments here track operational volume across all
// sessions: lifecycle counts, tool call traffic, sandbox executions and
// HTTP handling.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "yokeflow"

// Sandbox execution outcomes recorded on the exec counter.
const (
	ExecOutcomeOK      = "ok"
	ExecOutcomeTimeout = "timeout"
	ExecOutcomeError   = "error"
)

// Telemetry owns the operational instruments and the registry that serves
// them. One value is shared by the orchestrator and the API server; all
// methods are safe for concurrent use.
type Telemetry struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	sessionSeconds  *prometheus.HistogramVec

	toolCalls   *prometheus.CounterVec
	toolErrors  *prometheus.CounterVec
	toolSeconds *prometheus.HistogramVec

	sandboxExecs       *prometheus.CounterVec
	sandboxExecSeconds prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpSeconds  *prometheus.HistogramVec
}

// New creates the instruments on a fresh registry, alongside the standard
// Go runtime and process collectors.
func New() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Agent sessions started, by session type.",
		}, []string{"type"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Agent sessions ended, by session type and terminal status.",
		}, []string{"type", "status"}),
		sessionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock session duration, by session type.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}, []string{"type"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched, by method.",
		}, []string{"tool"}),
		toolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_errors_total",
			Help:      "Tool calls that returned a wire error, by method.",
		}, []string{"tool"}),
		toolSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency from dispatch to result, by method.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"tool"}),
		sandboxExecs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_execs_total",
			Help:      "Sandbox command executions, by outcome.",
		}, []string{"outcome"}),
		sandboxExecSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_exec_duration_seconds",
			Help:      "Sandbox command execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request handling time, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		t.sessionsStarted,
		t.sessionsEnded,
		t.sessionSeconds,
		t.toolCalls,
		t.toolErrors,
		t.toolSeconds,
		t.sandboxExecs,
		t.sandboxExecSeconds,
		t.httpRequests,
		t.httpSeconds,
	)
	return t
}

// Gatherer exposes the registry for the /metrics handler.
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	return t.registry
}

// RecordSessionStart counts one session entering the running state.
func (t *Telemetry) RecordSessionStart(sessionType string) {
	t.sessionsStarted.WithLabelValues(sessionType).Inc()
}

// RecordSessionEnd counts one session reaching a terminal status and
// observes its duration.
func (t *Telemetry) RecordSessionEnd(sessionType, status string, d time.Duration) {
	t.sessionsEnded.WithLabelValues(sessionType, status).Inc()
	t.sessionSeconds.WithLabelValues(sessionType).Observe(d.Seconds())
}

// RecordToolCall counts one dispatched tool call.
func (t *Telemetry) RecordToolCall(tool string) {
	t.toolCalls.WithLabelValues(tool).Inc()
}

// RecordToolResult counts the outcome of a paired tool call. Durations are
// only observed when the pairing produced one.
func (t *Telemetry) RecordToolResult(tool string, isError bool, d time.Duration) {
	if isError {
		t.toolErrors.WithLabelValues(tool).Inc()
	}
	if d > 0 {
		t.toolSeconds.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// RecordSandboxExec counts one sandbox execution.
func (t *Telemetry) RecordSandboxExec(outcome string, d time.Duration) {
	t.sandboxExecs.WithLabelValues(outcome).Inc()
	if d > 0 {
		t.sandboxExecSeconds.Observe(d.Seconds())
	}
}

// RecordHTTPRequest counts one served API request.
func (t *Telemetry) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	t.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	t.httpSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
