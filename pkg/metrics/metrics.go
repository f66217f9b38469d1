// Package metrics defines the Prometheus collectors for the hot paths.
// Exporter wiring is left to the embedding process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foreman_cache_hits_total",
		Help: "Response cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foreman_cache_misses_total",
		Help: "Response cache misses",
	})
	CacheLocalEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foreman_cache_local_entries",
		Help: "Entries in the local cache tier",
	})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_ratelimit_denials_total",
		Help: "Rate limiter denials by provider/model",
	}, []string{"key"})
	RateLimitFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foreman_ratelimit_fail_open_total",
		Help: "Requests allowed because the rate-limit store failed",
	})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_llm_requests_total",
		Help: "Provider calls by provider and outcome",
	}, []string{"provider", "outcome"})
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_llm_tokens_total",
		Help: "Tokens consumed by provider",
	}, []string{"provider"})
	LLMCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_llm_cost_usd_total",
		Help: "Provider spend in USD",
	}, []string{"provider"})

	RouteDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_route_decisions_total",
		Help: "Routing decisions by model and source (request pin, policy pin, scored)",
	}, []string{"model", "source"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_tasks_total",
		Help: "Workflow tasks by terminal state",
	}, []string{"state"})
	WorkflowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_workflows_total",
		Help: "Workflows by terminal state",
	}, []string{"state"})

	QuantumCollapses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_quantum_collapses_total",
		Help: "Quantum task collapses by strategy",
	}, []string{"strategy"})

	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foreman_sessions_active",
		Help: "Active sessions by protocol",
	}, []string{"protocol"})

	ConsentDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_consent_decisions_total",
		Help: "Consent gate decisions",
	}, []string{"outcome"})
)
