package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/snow-season-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Analyses over long ranges are slow; watch p95 per route.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Raw-data provider call rate by outcome.
	ProviderCallsTotal *prometheus.CounterVec

	// Provider latency per call. Watch for: p95 > 5s (upstream degradation).
	ProviderDuration *prometheus.HistogramVec

	// Retry attempts against the provider. High retries = unstable upstream.
	ProviderRetriesTotal prometheus.Counter

	// Provider errors by category (timeout, rate_limited, upstream_5xx, data_unavailable, ...).
	ProviderErrorsTotal *prometheus.CounterVec

	// Cache hits for raw observation sets.
	CacheHitsTotal *prometheus.CounterVec

	// Cache errors by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses on the same key.
	CacheStampedeDetectedTotal *prometheus.CounterVec
	CacheStampedeConcurrency   *prometheus.HistogramVec

	// Requests that waited on an in-flight fetch for the same key.
	RequestCoalescingHitsTotal   *prometheus.CounterVec
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Stale observation sets served while the provider was failing.
	StaleCacheServesTotal *prometheus.CounterVec
	StaleCacheAgeSeconds  prometheus.Histogram

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// 0 closed, 1 open, 2 half-open.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Analyses run, by kind (region, point, elevation_bands).
	AnalysesTotal           *prometheus.CounterVec
	AnalysisDurationSeconds *prometheus.HistogramVec

	// Seasons produced, by data quality. A rising insufficient share points at provider coverage loss.
	SeasonsByQualityTotal *prometheus.CounterVec

	// Per-region analysis count (allow-list; others go to "other").
	AnalysesByRegionTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests at shutdown start.
	ShutdownInFlightRequests prometheus.Gauge

	// trackedRegions is built from config; used to bound region label cardinality.
	trackedRegionsMu sync.RWMutex
	trackedRegions   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of raw-data provider calls",
		},
		[]string{"status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Raw-data provider latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	ProviderRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for provider calls",
		},
	)
	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerErrorsTotal",
			Help: "Provider errors by category",
		},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of observation cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that found another miss already in progress for the same key",
		},
		[]string{"region"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses observed for a key during a stampede",
			Buckets: []float64{2, 3, 5, 10, 20, 50},
		},
		[]string{"region"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by waiting on an in-flight provider fetch",
		},
		[]string{"region"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced provider fetch",
			Buckets: prometheus.DefBuckets,
		},
	)
	StaleCacheServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Stale observation sets served because the provider failed",
		},
		[]string{"region"},
	)
	StaleCacheAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleCacheAgeSeconds",
			Help:    "Age of stale observation sets when served",
			Buckets: []float64{60, 300, 900, 3600, 6 * 3600, 24 * 3600},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed region",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration",
			Buckets: []float64{.5, 1, 5, 10, 30, 60, 120},
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysesTotal",
			Help: "Snow-season analyses by kind and result",
		},
		[]string{"kind", "result"},
	)
	AnalysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysisDurationSeconds",
			Help:    "Engine time per analysis, excluding the provider fetch",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"kind"},
	)
	SeasonsByQualityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seasonsByQualityTotal",
			Help: "Seasons produced by data quality grade",
		},
		[]string{"quality"},
	)
	AnalysesByRegionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysesByRegionTotal",
			Help: "Analyses by region (allow-list; others use region=other)",
		},
		[]string{"region"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests when graceful shutdown started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ProviderCallsTotal, ProviderDuration, ProviderRetriesTotal, ProviderErrorsTotal,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		StaleCacheServesTotal, StaleCacheAgeSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		AnalysesTotal, AnalysisDurationSeconds, SeasonsByQualityTotal, AnalysesByRegionTotal,
		RateLimitDeniedTotal, ShutdownInFlightRequests,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedRegions sets the allow-list for region metrics. Non-tracked regions are labelled "other".
func SetTrackedRegions(regions []string) {
	trackedRegionsMu.Lock()
	defer trackedRegionsMu.Unlock()
	trackedRegions = make(map[string]struct{}, len(regions))
	for _, r := range regions {
		trackedRegions[normalizeRegion(r)] = struct{}{}
	}
}

// MetricRegionLabel returns the region itself when tracked, otherwise "other".
func MetricRegionLabel(region string) string {
	r := normalizeRegion(region)
	trackedRegionsMu.RLock()
	_, ok := trackedRegions[r]
	trackedRegionsMu.RUnlock()
	if ok {
		return r
	}
	return "other"
}

// RecordAnalysis records one completed analysis of the given kind.
func RecordAnalysis(kind, region string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	AnalysesTotal.WithLabelValues(kind, result).Inc()
	if err != nil {
		return
	}
	AnalysisDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	if region != "" {
		AnalysesByRegionTotal.WithLabelValues(MetricRegionLabel(region)).Inc()
	}
}

// RecordSeasonQuality counts one produced season under its quality grade.
func RecordSeasonQuality(quality string) {
	SeasonsByQualityTotal.WithLabelValues(quality).Inc()
}

// CircuitBreakerStateValue maps a breaker state ordinal to the gauge value.
func CircuitBreakerStateValue(state int) float64 {
	return float64(state)
}

// SetCircuitBreakerStateGauge sets the breaker state gauge for component.
func SetCircuitBreakerStateGauge(component string, v float64) {
	CircuitBreakerState.WithLabelValues(component).Set(v)
}

// RecordCircuitBreakerTransition counts a state change for component.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// RecordShutdownInFlight records how many requests were in flight when shutdown began.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

func normalizeRegion(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
