// Package metrics owns the process's Prometheus collectors. A Metrics
// value carries its own registry, so embedded uses and tests never
// collide through global state. Wiring is push-style: the orchestrator
// and dispatcher expose observation hooks, and the command layer binds
// them to a Metrics value.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates run, stage, capability, and token collectors.
type Metrics struct {
	registry *prometheus.Registry

	runs               *prometheus.CounterVec
	runDuration        prometheus.Histogram
	runLoops           prometheus.Histogram
	stageDuration      *prometheus.HistogramVec
	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	tokens             *prometheus.CounterVec
}

// New builds the collector set on a fresh registry, with the standard Go
// and process collectors alongside.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_runs_total",
				Help: "Total orchestration runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_run_duration_seconds",
				Help:    "Wall time of one orchestration run",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5m
			},
		),
		runLoops: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_run_loops",
				Help:    "Plan/execute/observe cycles per run",
				Buckets: prometheus.LinearBuckets(1, 1, 12),
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_stage_duration_seconds",
				Help:    "Wall time of one pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4m
			},
			[]string{"stage", "status"},
		),
		capabilityCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_capability_calls_total",
				Help: "Total capability invocations",
			},
			[]string{"capability", "kind", "status"},
		),
		capabilityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_capability_duration_seconds",
				Help:    "Wall time of one capability invocation",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~2.7m
			},
			[]string{"capability"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_tokens_total",
				Help: "Total model tokens consumed",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs,
		m.runDuration,
		m.runLoops,
		m.stageDuration,
		m.capabilityCalls,
		m.capabilityDuration,
		m.tokens,
	)
	return m
}

// ObserveRun records one finished orchestration run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration, loops int) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	m.runLoops.Observe(float64(loops))
}

// ObserveStage records one finished pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// ObserveCapability records one capability invocation. errType is empty
// on success.
func (m *Metrics) ObserveCapability(name, kind, errType string, d time.Duration) {
	status := "ok"
	if errType != "" {
		status = errType
	}
	m.capabilityCalls.WithLabelValues(name, kind, status).Inc()
	m.capabilityDuration.WithLabelValues(name).Observe(d.Seconds())
}

// AddTokens adds n tokens of the given kind, such as "prompt" or
// "completion". Non-positive counts are ignored.
func (m *Metrics) AddTokens(kind string, n int) {
	if n <= 0 {
		return
	}
	m.tokens.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry so callers can attach extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
