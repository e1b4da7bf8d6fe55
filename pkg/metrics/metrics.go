// Package metrics exposes the engine's Prometheus instruments. A nil
// *Registry is valid and records nothing, so components can be built without
// metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "combo_engine"

// Upstream call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeRateLimited = "rate_limited"
	OutcomeTimeout     = "timeout"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Registry holds the engine's collectors on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	upstreamCalls   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	persistResults  *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	limiterWait     prometheus.Histogram
	batchDuration   prometheus.Histogram
	batchCombos     prometheus.Counter
	popularityRuns  *prometheus.CounterVec
	inflightDeduped prometheus.Counter
}

// New creates a Registry with Go runtime and process collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Search endpoint calls by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_cache_lookups_total",
			Help:      "Ranking cache lookups by result.",
		}, []string{"result"}),
		persistResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_persist_total",
			Help:      "Ranking persistence attempts by result (ok, ephemeral, error).",
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"breaker"}),
		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for a rate limiter slot.",
			Buckets:   DefaultBuckets,
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_batch_duration_seconds",
			Help:      "Wall time of FetchRankings invocations.",
			Buckets:   DefaultBuckets,
		}),
		batchCombos: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_batch_combos_total",
			Help:      "Combos submitted to the ranking pipeline.",
		}),
		popularityRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "popularity_refresh_keywords_total",
			Help:      "Keywords processed by popularity refresh, by result.",
		}, []string{"result"}),
		inflightDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_inflight_shared_total",
			Help:      "Fetches that joined an in-flight upstream call instead of issuing their own.",
		}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.upstreamCalls, r.cacheLookups, r.persistResults, r.breakerState,
		r.limiterWait, r.batchDuration, r.batchCombos, r.popularityRuns, r.inflightDeduped,
	)
	return r
}

// Handler returns an http.Handler that serves /metrics.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// UpstreamCall counts one search endpoint call outcome.
func (r *Registry) UpstreamCall(outcome string) {
	if r == nil {
		return
	}
	r.upstreamCalls.WithLabelValues(outcome).Inc()
}

// CacheLookup counts one ranking cache lookup.
func (r *Registry) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// Persist counts one persistence attempt.
func (r *Registry) Persist(result string) {
	if r == nil {
		return
	}
	r.persistResults.WithLabelValues(result).Inc()
}

// BreakerState records the numeric state of the named breaker.
func (r *Registry) BreakerState(name string, state int) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(name).Set(float64(state))
}

// LimiterWait observes time spent waiting since start.
func (r *Registry) LimiterWait(start time.Time) {
	if r == nil {
		return
	}
	r.limiterWait.Observe(time.Since(start).Seconds())
}

// Batch records one pipeline invocation.
func (r *Registry) Batch(start time.Time, combos int) {
	if r == nil {
		return
	}
	r.batchDuration.Observe(time.Since(start).Seconds())
	r.batchCombos.Add(float64(combos))
}

// PopularityRefreshed counts one keyword handled by a refresh run.
func (r *Registry) PopularityRefreshed(result string) {
	if r == nil {
		return
	}
	r.popularityRuns.WithLabelValues(result).Inc()
}

// InflightShared counts a fetch that was served by another caller's upstream call.
func (r *Registry) InflightShared() {
	if r == nil {
		return
	}
	r.inflightDeduped.Inc()
}
