// Package metrics exposes Prometheus instrumentation for the cache tiers,
// circuit breakers, fallback resolution, and request deduplication. All
// Record* helpers are safe to call before Init; they become no-ops, which
// keeps unit tests free of registry setup.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors for the resolution pipeline.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits   *prometheus.CounterVec
	cacheMisses prometheus.Counter

	breakerState *prometheus.GaugeVec
	breakerTrips *prometheus.CounterVec

	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec

	dedupCoalesced  prometheus.Counter
	dedupSuppressed prometheus.Counter

	rateLimited prometheus.Counter
}

// Default histogram buckets for source resolution latency (milliseconds).
var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var m *Metrics

// Init initializes the global metrics registry.
func Init(namespace string) {
	if namespace == "" {
		namespace = "edgequest"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	mm := &Metrics{
		registry: registry,

		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits by tier",
			},
			[]string{"tier"},
		),

		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Reads that missed every cache tier",
			},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"resource"},
		),

		breakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_trips_total",
				Help:      "Circuit breaker transitions to open",
			},
			[]string{"resource"},
		),

		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Source attempts during fallback resolution, by outcome",
			},
			[]string{"source", "outcome"},
		),

		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_milliseconds",
				Help:      "Per-source resolution latency in milliseconds",
				Buckets:   defaultBuckets,
			},
			[]string{"source"},
		),

		dedupCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_coalesced_total",
				Help:      "Callers that attached to an in-flight resolution",
			},
		),

		dedupSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_suppressed_total",
				Help:      "Resolutions suppressed by the minimum-interval guard",
			},
		),

		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		mm.cacheHits,
		mm.cacheMisses,
		mm.breakerState,
		mm.breakerTrips,
		mm.resolutions,
		mm.resolutionDuration,
		mm.dedupCoalesced,
		mm.dedupSuppressed,
		mm.rateLimited,
	)

	m = mm
}

// Handler returns the /metrics HTTP handler, or a 404 handler when metrics
// are not initialized.
func Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

func RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func SetBreakerState(resource string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(resource).Set(float64(state))
}

func RecordBreakerTrip(resource string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(resource).Inc()
}

func RecordResolution(source, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source, outcome).Inc()
}

func ObserveResolutionDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutionDuration.WithLabelValues(source).Observe(float64(d.Milliseconds()))
}

func RecordDedupCoalesced() {
	if m == nil {
		return
	}
	m.dedupCoalesced.Inc()
}

func RecordDedupSuppressed() {
	if m == nil {
		return
	}
	m.dedupSuppressed.Inc()
}

func RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
