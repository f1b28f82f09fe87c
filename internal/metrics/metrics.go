// Package metrics registers the engine's Prometheus instrumentation,
// grounded on the retrieved pack's prometheus/client_golang usage
// (w564791-Terranova's observability/metrics middleware pattern,
// adapted from gin to the teacher's chi router).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the engine exports.
type Registry struct {
	reg *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	executionsStarted  prometheus.Counter
	executionsSucceeded prometheus.Counter
	executionsFailed   prometheus.Counter
	executionsActive   prometheus.GaugeFunc
	executionsQueued   prometheus.GaugeFunc
	executionDuration  prometheus.Histogram

	triggerPollFailures *prometheus.CounterVec
}

// ExecutorStats is the subset of executor.Executor state the gauges read.
type ExecutorStats interface {
	ActiveCount() int64
	QueueDepth() int
}

// New builds a Registry backed by a fresh prometheus.Registry, wiring
// active/queued gauges to executor's live counters.
func New(executor ExecutorStats) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_http_requests_total",
			Help: "Total HTTP requests processed by the engine's API.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_executions_started_total",
			Help: "Total rule executions submitted.",
		}),
		executionsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_executions_succeeded_total",
			Help: "Total rule executions that completed SUCCESS.",
		}),
		executionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_executions_failed_total",
			Help: "Total rule executions that completed FAILED.",
		}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_execution_duration_seconds",
			Help:    "Rule execution wall-clock duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		triggerPollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_trigger_poll_failures_total",
			Help: "Total poll-tick failures by rule id.",
		}, []string{"rule_id"}),
	}

	if executor != nil {
		r.executionsActive = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "automation_executions_active",
			Help: "Executions currently RUNNING.",
		}, func() float64 { return float64(executor.ActiveCount()) })
		r.executionsQueued = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "automation_executions_queued",
			Help: "Executions waiting for a concurrency slot.",
		}, func() float64 { return float64(executor.QueueDepth()) })
	}

	reg.MustRegister(r.httpRequestsTotal, r.httpRequestDuration,
		r.executionsStarted, r.executionsSucceeded, r.executionsFailed,
		r.executionDuration, r.triggerPollFailures)
	if r.executionsActive != nil {
		reg.MustRegister(r.executionsActive, r.executionsQueued)
	}
	return r
}

// Handler exposes the registry at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordExecutionStarted increments the started counter.
func (r *Registry) RecordExecutionStarted() { r.executionsStarted.Inc() }

// RecordExecutionFinished records a completed execution's outcome and
// duration.
func (r *Registry) RecordExecutionFinished(succeeded bool, duration time.Duration) {
	if succeeded {
		r.executionsSucceeded.Inc()
	} else {
		r.executionsFailed.Inc()
	}
	r.executionDuration.Observe(duration.Seconds())
}

// RecordTriggerPollFailure increments the poll-failure counter for ruleID.
func (r *Registry) RecordTriggerPollFailure(ruleID string) {
	r.triggerPollFailures.WithLabelValues(ruleID).Inc()
}

// HTTPMiddleware wraps chi's request handling, recording per-route counts
// and latencies with the route template (not the raw path) as the label to
// avoid cardinality blowup on path parameters.
func (r *Registry) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		route := chiRouteTemplate(req)
		status := strconv.Itoa(ww.Status())
		elapsed := time.Since(start).Seconds()

		r.httpRequestsTotal.WithLabelValues(req.Method, route, status).Inc()
		r.httpRequestDuration.WithLabelValues(req.Method, route, status).Observe(elapsed)
	})
}

func chiRouteTemplate(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
