package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "math_agent_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"route"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math_agent_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"route", "status"},
	)

	GuardrailRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math_agent_guardrail_rejections_total",
			Help: "Total queries and responses rejected by guardrails",
		},
		[]string{"stage"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "math_agent_confidence_score",
			Help:    "Response confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"route"},
	)

	KnowledgeResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "math_agent_knowledge_results_count",
			Help:    "Number of knowledge base matches per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	WebSearchTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "math_agent_web_search_triggered_total",
			Help: "Total number of web searches triggered",
		},
	)

	SolverAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math_agent_solver_attempts_total",
			Help: "Total deterministic solver attempts",
		},
		[]string{"outcome"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math_agent_feedback_total",
			Help: "Total feedback submissions",
		},
		[]string{"status"},
	)

	UserSatisfaction = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "math_agent_satisfaction_score",
			Help: "Mean feedback rating per route",
		},
		[]string{"route"},
	)

	KnowledgeEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "math_agent_knowledge_entries_total",
			Help: "Total entries in the knowledge base",
		},
	)

	ThresholdValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "math_agent_routing_threshold",
			Help: "Current routing confidence thresholds",
		},
		[]string{"band"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(GuardrailRejections)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(KnowledgeResultsCount)
	prometheus.MustRegister(WebSearchTriggered)
	prometheus.MustRegister(SolverAttempts)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(UserSatisfaction)
	prometheus.MustRegister(KnowledgeEntriesTotal)
	prometheus.MustRegister(ThresholdValue)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
