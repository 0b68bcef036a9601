package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	EnrichmentRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_enrichment_rows_total",
			Help: "Catalog rows handled by the enrichment stage",
		},
		[]string{"outcome"},
	)

	CompletionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamerec_completion_duration_seconds",
			Help:    "Completion call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model", "status"},
	)

	CompletionTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_completion_tokens_used",
			Help: "Total completion tokens used",
		},
		[]string{"model", "type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamerec_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RecommendationQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_recommendation_queries_total",
			Help: "Recommendation queries by outcome",
		},
		[]string{"status"},
	)

	RecommendationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gamerec_recommendation_duration_seconds",
			Help:    "Recommendation lookup duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	MatrixBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gamerec_matrix_build_duration_seconds",
			Help:    "Similarity matrix build duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	CorpusSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamerec_corpus_games",
			Help: "Games in the loaded corpus",
		},
	)

	VocabularySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamerec_vocabulary_terms",
			Help: "Distinct terms in the TF-IDF vocabulary",
		},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			EnrichmentRows,
			CompletionDuration,
			CompletionTokensUsed,
			BreakerState,
			CacheHits,
			CacheMisses,
			RecommendationQueries,
			RecommendationDuration,
			MatrixBuildDuration,
			CorpusSize,
			VocabularySize,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Push sends every registered collector to a Pushgateway under job. Batch
// commands call it once before exiting.
func Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
