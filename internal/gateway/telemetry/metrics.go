// Package telemetry holds the gateway's Prometheus instruments. Everything
// hangs off an injected Registerer so tests can use a private registry and
// two gateways can coexist in one process.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache outcome label values for RequestsTotal / CacheOutcomes.
const (
	OutcomeExactHit    = "exact_hit"
	OutcomeSemanticHit = "semantic_hit"
	OutcomeMiss        = "miss"
)

// Metrics is the full instrument set.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheOutcomes   *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmCost         prometheus.Counter
	inFlight        prometheus.Gauge
	breakerState    prometheus.Gauge
}

// NewMetrics registers the instrument set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_requests_total",
			Help: "HTTP requests served, by endpoint and status code",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_request_duration_seconds",
			Help:    "End-to-end request latency by endpoint",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		cacheOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_cache_outcomes_total",
			Help: "Query cache outcomes: exact_hit, semantic_hit, miss",
		}, []string{"type"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_llm_tokens_total",
			Help: "Tokens exchanged with the LLM provider, by direction",
		}, []string{"direction"}),
		llmCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_llm_cost_total",
			Help: "Estimated cumulative LLM spend in USD",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_in_flight_requests",
			Help: "Requests currently being processed",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_breaker_state",
			Help: "LLM circuit breaker state: 0 closed, 1 half-open, 2 open",
		}),
	}
	reg.MustRegister(
		m.requestsTotal, m.requestDuration, m.cacheOutcomes,
		m.llmTokens, m.llmCost, m.inFlight, m.breakerState,
	)
	return m
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(endpoint, status string, d time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordCacheOutcome counts one query resolution.
func (m *Metrics) RecordCacheOutcome(outcome string) {
	m.cacheOutcomes.WithLabelValues(outcome).Inc()
}

// RecordLLMUsage accounts tokens and spend for one completed provider call.
func (m *Metrics) RecordLLMUsage(inputTokens, outputTokens int, cost float64) {
	m.llmTokens.WithLabelValues("input").Add(float64(inputTokens))
	m.llmTokens.WithLabelValues("output").Add(float64(outputTokens))
	m.llmCost.Add(cost)
}

// RequestStarted / RequestFinished bracket the in-flight gauge.
func (m *Metrics) RequestStarted()  { m.inFlight.Inc() }
func (m *Metrics) RequestFinished() { m.inFlight.Dec() }

// SetBreakerState mirrors the breaker's numeric state encoding.
func (m *Metrics) SetBreakerState(state int) { m.breakerState.Set(float64(state)) }
