package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage labels for pipeline metrics.
const (
	StageReformulate = "reformulate"
	StageEmbed       = "embed"
	StageSearch      = "search"
	StageGenerate    = "generate"
	StageTitle       = "title"
	StagePersist     = "persist"
)

// Collector holds the pipeline metrics. Each collector owns its registry
// so multiple instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	// Turn metrics
	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	TurnTokens    *prometheus.HistogramVec
	TitleFallback prometheus.Counter

	// Pipeline stage metrics
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	// Persistence metrics
	AppendConflicts prometheus.Counter
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
}

// NewCollector creates and registers the pipeline metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docuchat_turns_total",
				Help: "Completed conversation turns by approach and status",
			},
			[]string{"approach", "status"},
		),

		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docuchat_turn_duration_seconds",
				Help:    "End-to-end turn duration in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"approach"},
		),

		TurnTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docuchat_turn_tokens",
				Help:    "Total tokens consumed per turn",
				Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
			},
			[]string{"approach"},
		),

		TitleFallback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docuchat_title_fallbacks_total",
				Help: "Conversations created with the placeholder title",
			},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docuchat_stage_duration_seconds",
				Help:    "Pipeline stage latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),

		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docuchat_stage_errors_total",
				Help: "Pipeline stage failures by stage and error category",
			},
			[]string{"stage", "category"},
		),

		AppendConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docuchat_append_conflicts_total",
				Help: "Conversation appends retried after a version conflict",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docuchat_cache_hits_total",
				Help: "Total cache hits",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docuchat_cache_misses_total",
				Help: "Total cache misses",
			},
			[]string{"cache_type"},
		),
	}

	c.registry.MustRegister(
		c.TurnsTotal,
		c.TurnDuration,
		c.TurnTokens,
		c.TitleFallback,
		c.StageDuration,
		c.StageErrors,
		c.AppendConflicts,
		c.CacheHits,
		c.CacheMisses,
	)

	return c
}

// ObserveStage records one stage execution.
func (c *Collector) ObserveStage(stage string, start time.Time, category string) {
	c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if category != "" {
		c.StageErrors.WithLabelValues(stage, category).Inc()
	}
}

// ObserveTurn records one completed turn.
func (c *Collector) ObserveTurn(approach, status string, start time.Time, totalTokens int) {
	c.TurnsTotal.WithLabelValues(approach, status).Inc()
	c.TurnDuration.WithLabelValues(approach).Observe(time.Since(start).Seconds())
	if totalTokens > 0 {
		c.TurnTokens.WithLabelValues(approach).Observe(float64(totalTokens))
	}
}

// Handler returns the HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
