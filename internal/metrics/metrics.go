package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the partition store method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records partition lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records partition store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a partition lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached response.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached response was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupExpired indicates a cached response was present but past its TTL.
	CacheLookupExpired CacheLookupOutcome = "expired"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a partition store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the response entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for gateway activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	precacheURLs *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachegate",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Total requests resolved by the gateway dispatcher.",
	}, []string{"strategy", "source", "status_code"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cachegate",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for resolved requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"strategy", "source"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachegate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Partition store operations executed by the gateway.",
	}, []string{"partition", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cachegate",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for partition store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"partition", "operation", "result"})

	precacheURLs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachegate",
		Subsystem: "precache",
		Name:      "urls_total",
		Help:      "Manifest URLs processed during precache runs.",
	}, []string{"result"})

	reg.MustRegister(requests, requestLatency, cacheOperations, cacheLatency, precacheURLs)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		requests:        requests,
		requestLatency:  requestLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		precacheURLs:    precacheURLs,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the strategy, response source, and latency for a
// completed request.
func (r *Recorder) ObserveRequest(strategy, source string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	strategyLabel := normalizeLabel(strategy)
	sourceLabel := normalizeLabel(source)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(strategyLabel, sourceLabel, statusLabel).Inc()
	r.requestLatency.WithLabelValues(strategyLabel, sourceLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a partition lookup.
func (r *Recorder) ObserveCacheLookup(partition string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(partition), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a partition store attempt.
func (r *Recorder) ObserveCacheStore(partition string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(partition), CacheOperationStore, resultLabel, duration)
}

// ObservePrecache records the outcome counts of a precache run.
func (r *Recorder) ObservePrecache(succeeded, failed int) {
	if r == nil {
		return
	}
	if succeeded > 0 {
		r.precacheURLs.WithLabelValues("succeeded").Add(float64(succeeded))
	}
	if failed > 0 {
		r.precacheURLs.WithLabelValues("failed").Add(float64(failed))
	}
}

func (r *Recorder) observeCache(partition string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(partition, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(partition, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
