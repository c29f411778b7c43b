// Package feedback records user feedback and pipeline metrics for the
// research pipeline: total queries, cache hit/miss, per-stage failures,
// per-provider outcomes, end-to-end latency, and circuit-breaker trips.
package feedback

import (
	"sync"
	"time"

	"github.com/arclight-ai/resolve/researchtype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Sink implements record_feedback/record_metrics (§4.L). Counters are
// exposed both as Prometheus series and as a lightweight in-process
// snapshot for callers that don't scrape /metrics (e.g. the CLI).
type Sink struct {
	queriesTotal       *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	stageFailures      *prometheus.CounterVec
	providerOutcomes   *prometheus.CounterVec
	latencySeconds     prometheus.Histogram
	circuitBreakerTrips *prometheus.CounterVec
	feedbackScore      *prometheus.HistogramVec

	logger *zap.Logger

	mu                       sync.Mutex
	totalQueries             int64
	totalCacheHits           int64
	totalCacheMisses         int64
	providerOutcomeCounts    map[providerOutcomeKey]int64
	circuitBreakerTripCounts map[string]int64
}

type providerOutcomeKey struct {
	provider string
	success  bool
}

// New creates a Sink. namespace is the Prometheus metric namespace prefix
// (e.g. "resolve").
func New(namespace string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sink{
		logger:                   logger.With(zap.String("component", "feedback")),
		providerOutcomeCounts:    make(map[providerOutcomeKey]int64),
		circuitBreakerTripCounts: make(map[string]int64),

		queriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of research queries processed",
			},
			[]string{"research_type", "outcome"},
		),
		cacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of research cache hits",
			},
		),
		cacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of research cache misses",
			},
		),
		stageFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_failures_total",
				Help:      "Total number of pipeline stage failures",
			},
			[]string{"stage"},
		),
		providerOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_outcomes_total",
				Help:      "Total number of provider call outcomes",
			},
			[]string{"provider", "outcome"},
		),
		latencySeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "End-to-end research query duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		circuitBreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker open transitions",
			},
			[]string{"provider"},
		),
		feedbackScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feedback_score",
				Help:      "User-reported feedback score for research results",
				Buckets:   []float64{0, 0.25, 0.5, 0.75, 1},
			},
			[]string{"research_type"},
		),
	}
}

// RecordCacheHit records a cache hit during stage 4.
func (s *Sink) RecordCacheHit() {
	s.cacheHits.Inc()
	s.mu.Lock()
	s.totalCacheHits++
	s.mu.Unlock()
}

// RecordCacheMiss records a cache miss during stage 4.
func (s *Sink) RecordCacheMiss() {
	s.cacheMisses.Inc()
	s.mu.Lock()
	s.totalCacheMisses++
	s.mu.Unlock()
}

// RecordStageFailure records a soft-fail at the named pipeline stage.
func (s *Sink) RecordStageFailure(stage string) {
	s.stageFailures.WithLabelValues(stage).Inc()
	s.logger.Warn("pipeline stage failed", zap.String("stage", stage))
}

// RecordProviderOutcome records one provider call's success/failure.
func (s *Sink) RecordProviderOutcome(providerName string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.providerOutcomes.WithLabelValues(providerName, outcome).Inc()

	s.mu.Lock()
	s.providerOutcomeCounts[providerOutcomeKey{providerName, success}]++
	s.mu.Unlock()
}

// RecordCircuitBreakerTrip records a provider's circuit breaker opening.
func (s *Sink) RecordCircuitBreakerTrip(providerName string) {
	s.circuitBreakerTrips.WithLabelValues(providerName).Inc()

	s.mu.Lock()
	s.circuitBreakerTripCounts[providerName]++
	s.mu.Unlock()
}

// ProviderOutcomeCount returns the in-process counter value for one
// provider/outcome pair. Exposed mainly so callers (and tests) can assert
// that RecordProviderOutcome was actually invoked without scraping
// Prometheus.
func (s *Sink) ProviderOutcomeCount(providerName string, success bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := providerOutcomeKey{providerName, success}
	return s.providerOutcomeCounts[key]
}

// CircuitBreakerTripCount returns the in-process trip counter for one
// provider.
func (s *Sink) CircuitBreakerTripCount(providerName string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuitBreakerTripCounts[providerName]
}

// RecordMetrics implements record_metrics(result, duration): total query
// count by research type/outcome and end-to-end latency.
func (s *Sink) RecordMetrics(result researchtype.ResearchResult, duration time.Duration) {
	outcome := "ok"
	if len(result.Metadata.SourcesConsulted) == 1 && result.Metadata.SourcesConsulted[0] == researchtype.PlaceholderFallbackSource {
		outcome = "placeholder_fallback"
	}
	s.queriesTotal.WithLabelValues(string(result.Request.ResearchType), outcome).Inc()
	s.latencySeconds.Observe(duration.Seconds())

	s.mu.Lock()
	s.totalQueries++
	s.mu.Unlock()
}

// RecordFeedback implements record_feedback(result): a caller-supplied
// quality score (e.g. a thumbs-up/down mapped to 1/0, or a 0..1 rating)
// attached after the fact to a previously returned result.
func (s *Sink) RecordFeedback(result researchtype.ResearchResult, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	s.feedbackScore.WithLabelValues(string(result.Request.ResearchType)).Observe(score)
}

// Snapshot is the lightweight in-process counter view exposed to callers
// that don't scrape Prometheus (e.g. the CLI's --stats flag).
type Snapshot struct {
	TotalQueries     int64
	TotalCacheHits   int64
	TotalCacheMisses int64
}

// Snapshot returns the current in-process counters.
func (s *Sink) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalQueries:     s.totalQueries,
		TotalCacheHits:   s.totalCacheHits,
		TotalCacheMisses: s.totalCacheMisses,
	}
}
