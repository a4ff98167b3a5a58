// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide registry served by Handler.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ActiveSessions, SessionsEvicted,
		InferenceDuration, AnalyzeTotal,
		SummaryFallbacks,
	)
}

// ActiveSessions is the number of live sessions in the store.
var ActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "vision_agent_active_sessions",
		Help: "Number of live sessions held in memory.",
	},
)

// SessionsEvicted counts sessions removed by the expiry sweeper.
var SessionsEvicted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "vision_agent_sessions_evicted_total",
		Help: "Sessions evicted after exceeding the idle TTL.",
	},
)

// InferenceDuration is the latency of calls to the remote model.
var InferenceDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "vision_agent_inference_duration_seconds",
		Help:    "Latency of remote inference calls.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"call", "outcome"}, // describe|summarize, ok|error
)

// AnalyzeTotal counts analyze requests by result code.
var AnalyzeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vision_agent_analyze_total",
		Help: "Analyze requests by result.",
	},
	[]string{"result"},
)

// SummaryFallbacks counts turns folded in by the local summary heuristic
// because the model-backed summarizer failed.
var SummaryFallbacks = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "vision_agent_summary_fallbacks_total",
		Help: "Turns summarized locally after a model summarization failure.",
	},
)

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
