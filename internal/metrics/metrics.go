// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a private registry with the analysis collectors. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	unitsDispatched *prometheus.CounterVec
	retries         prometheus.Counter
	parseFailures   prometheus.Counter
	findings        *prometheus.CounterVec
	strategyRuns    *prometheus.CounterVec
	fallbacks       prometheus.Counter
	runs            *prometheus.CounterVec
	costUSD         prometheus.Counter
	embedCacheHits  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		unitsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "units_dispatched_total",
			Help: "Units sent to the analysis model, by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "model_retries_total",
			Help: "Retried model calls.",
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "parse_failures_total",
			Help: "Model responses that could not be parsed.",
		}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "findings_total",
			Help: "Findings by mapping status.",
		}, []string{"status"}),
		strategyRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "highlight_strategy_runs_total",
			Help: "Highlight runs by final strategy and result.",
		}, []string{"strategy", "result"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "highlight_fallbacks_total",
			Help: "Highlight runs that succeeded on the fallback strategy.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "runs_total",
			Help: "Analysis runs by final status.",
		}, []string{"status"}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "cost_usd_total",
			Help: "Estimated model spend in USD.",
		}),
		embedCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docaudit", Name: "embedding_cache_hits_total",
			Help: "Embedding requests served from the run cache.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.unitsDispatched, m.retries, m.parseFailures, m.findings,
		m.strategyRuns, m.fallbacks, m.runs, m.costUSD, m.embedCacheHits,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) UnitDispatched(outcome string) {
	if m == nil {
		return
	}
	m.unitsDispatched.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

func (m *Metrics) Findings(mapped, unmapped int) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues("mapped").Add(float64(mapped))
	m.findings.WithLabelValues("unmapped").Add(float64(unmapped))
}

func (m *Metrics) StrategyRun(strategy string, ok, fallback bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.strategyRuns.WithLabelValues(strategy, result).Inc()
	if ok && fallback {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) Run(status string, costUSD float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	if costUSD > 0 {
		m.costUSD.Add(costUSD)
	}
}

func (m *Metrics) EmbeddingCacheHits(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embedCacheHits.Add(float64(n))
}
