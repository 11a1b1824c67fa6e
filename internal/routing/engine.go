package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/guardrails"
	"github.com/math-agent/backend/internal/intent"
	"github.com/math-agent/backend/internal/knowledge"
	"github.com/math-agent/backend/internal/metrics"
	"github.com/math-agent/backend/internal/search/web"
	"github.com/math-agent/backend/internal/solver"
	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

const (
	NoAnswerText = "I could not find a reliable answer to this question. " +
		"Try rephrasing it or breaking it into smaller steps."

	webBaseConfidence    = 0.25
	webPerResultIncrease = 0.05
	minTermOverlap       = 2
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]web.SearchResult, error)
}

type SolverAgent interface {
	Solve(query string, cls intent.Classification) solver.Result
}

type EnvelopeStore interface {
	SaveEnvelope(envelope *models.ResponseEnvelope) error
}

type Config struct {
	TopK             int
	HybridBonus      float64
	SolverConfidence float64
	WebMaxResults    int
}

type Engine struct {
	guard      *guardrails.Manager
	classifier *intent.Classifier
	index      *knowledge.Index
	embedder   Embedder
	searcher   WebSearcher
	solver     SolverAgent
	thresholds *Thresholds
	store      EnvelopeStore
	cfg        Config

	statsMu       sync.Mutex
	routeCounts   map[models.Route]int64
	rejectedCount int64
	latencySumMS  int64
	totalQueries  int64
}

// Stats is a point-in-time snapshot of routing activity since startup.
type Stats struct {
	TotalQueries        int64                  `json:"total_queries"`
	GuardrailRejections int64                  `json:"guardrail_rejections"`
	AvgLatencyMS        float64                `json:"avg_latency_ms"`
	RouteCounts         map[models.Route]int64 `json:"route_counts"`
	HighThreshold       float64                `json:"high_threshold"`
	LowThreshold        float64                `json:"low_threshold"`
}

func NewEngine(
	guard *guardrails.Manager,
	classifier *intent.Classifier,
	index *knowledge.Index,
	embedder Embedder,
	searcher WebSearcher,
	solverAgent SolverAgent,
	thresholds *Thresholds,
	store EnvelopeStore,
	cfg Config,
) *Engine {
	if cfg.TopK == 0 {
		cfg.TopK = 3
	}
	if cfg.HybridBonus == 0 {
		cfg.HybridBonus = 0.10
	}
	if cfg.SolverConfidence == 0 {
		cfg.SolverConfidence = 0.90
	}
	if cfg.WebMaxResults == 0 {
		cfg.WebMaxResults = 5
	}

	return &Engine{
		guard:       guard,
		classifier:  classifier,
		index:       index,
		embedder:    embedder,
		searcher:    searcher,
		solver:      solverAgent,
		thresholds:  thresholds,
		store:       store,
		cfg:         cfg,
		routeCounts: make(map[models.Route]int64),
	}
}

// Answer runs the full pipeline: input guardrails, intent classification,
// knowledge base search, the confidence-gated fallback chain, output
// guardrails, and envelope persistence. queryContext is optional caller
// context that informs classification but is never embedded or answered.
func (e *Engine) Answer(ctx context.Context, query, queryContext string) (*models.ResponseEnvelope, error) {
	start := time.Now()

	input := e.guard.CheckInput(query)
	if !input.Accepted {
		metrics.GuardrailRejections.WithLabelValues("input").Inc()
		logger.Info("Query rejected by guardrails", zap.String("reason", input.Reason))

		envelope := e.finishEnvelope(&models.ResponseEnvelope{
			Query:     query,
			Route:     models.RouteGuardrailRejected,
			Solution:  input.Reason,
			Consulted: []string{"guardrails"},
		}, start, true)
		return envelope, nil
	}

	sanitized := input.Sanitized
	classifyText := sanitized
	if qc := strings.TrimSpace(queryContext); qc != "" {
		classifyText = sanitized + " " + qc
	}
	cls := e.classifier.Classify(classifyText)

	decision, envelope := e.route(ctx, sanitized, cls)

	// Output violations swap in safe content but keep the route and
	// confidence intact for auditing.
	output := e.guard.CheckOutput(envelope.Solution)
	envelope.Solution = output.Sanitized
	if !output.Accepted {
		metrics.GuardrailRejections.WithLabelValues("output").Inc()
		logger.Warn("Output guardrail replaced response content",
			zap.String("route", string(envelope.Route)),
			zap.String("reason", output.Reason),
		)
		envelope.Steps = nil
		envelope.Citations = nil
		envelope.EntryID = ""
	}

	envelope = e.finishEnvelope(envelope, start, false)

	if envelope.EntryID != "" {
		if err := e.index.RecordUsage(envelope.EntryID); err != nil {
			logger.Warn("Failed to record entry usage", zap.Error(err))
		}
	}

	metrics.QueryTotal.WithLabelValues(string(envelope.Route), "ok").Inc()
	metrics.QueryDuration.WithLabelValues(string(envelope.Route)).Observe(time.Since(start).Seconds())
	metrics.ConfidenceScore.WithLabelValues(string(envelope.Route)).Observe(envelope.Confidence)

	logger.Info("Query answered",
		zap.String("response_id", envelope.ID),
		zap.String("route", string(envelope.Route)),
		zap.Float64("confidence", envelope.Confidence),
		zap.Int("latency_ms", envelope.LatencyMS),
		zap.String("reasoning", decision.Reasoning),
	)

	return envelope, nil
}

func (e *Engine) route(ctx context.Context, query string, cls intent.Classification) (models.RouteDecision, *models.ResponseEnvelope) {
	high, low := e.thresholds.Snapshot()
	consulted := []string{"knowledge_base"}

	results := e.searchKnowledge(ctx, query)
	metrics.KnowledgeResultsCount.Observe(float64(len(results)))

	if len(results) > 0 {
		top := results[0]

		if top.Similarity >= high {
			decision := models.RouteDecision{
				Route:      models.RouteKnowledgeBase,
				Confidence: top.Similarity,
				Consulted:  consulted,
				Reasoning:  "knowledge base match above high threshold",
			}
			return decision, e.envelopeFromEntry(query, top, decision)
		}

		if top.Similarity >= low {
			return e.routeHybrid(ctx, query, cls, top, consulted)
		}
	}

	// Below the low band nothing in the knowledge base is trustworthy;
	// try the deterministic solver, then the open web.
	if cls.Computable && e.solver != nil {
		if result := e.solver.Solve(query, cls); result.Solved {
			metrics.SolverAttempts.WithLabelValues("solved").Inc()
			consulted = append(consulted, "solver")
			decision := models.RouteDecision{
				Route:      models.RouteFallback,
				Confidence: e.cfg.SolverConfidence,
				Consulted:  consulted,
				Reasoning:  "deterministic solver produced an answer",
			}
			return decision, &models.ResponseEnvelope{
				Query:      query,
				Route:      decision.Route,
				Solution:   result.Solution,
				Steps:      result.Steps,
				Citations:  []models.Citation{{Type: "solver", Locator: string(cls.Operation)}},
				Confidence: decision.Confidence,
				Consulted:  decision.Consulted,
			}
		}
		metrics.SolverAttempts.WithLabelValues("unsolved").Inc()
	}

	if webResults := e.searchWeb(ctx, query); len(webResults) > 0 {
		consulted = append(consulted, "web_search")

		confidence := webBaseConfidence + float64(len(webResults))*webPerResultIncrease
		if ceiling := low - webPerResultIncrease; confidence > ceiling {
			confidence = ceiling
		}

		decision := models.RouteDecision{
			Route:      models.RouteWebSearch,
			Confidence: confidence,
			Consulted:  consulted,
			Reasoning:  "no local answer, web results only",
		}
		return decision, &models.ResponseEnvelope{
			Query:      query,
			Route:      decision.Route,
			Solution:   summarizeWebResults(webResults),
			Citations:  webCitations(webResults),
			Confidence: decision.Confidence,
			Consulted:  decision.Consulted,
		}
	}

	decision := models.RouteDecision{
		Route:     models.RouteNoAnswer,
		Consulted: consulted,
		Reasoning: "all sources exhausted",
	}
	return decision, &models.ResponseEnvelope{
		Query:     query,
		Route:     decision.Route,
		Solution:  NoAnswerText,
		Consulted: decision.Consulted,
	}
}

// routeHybrid corroborates a mid-band knowledge base match against web
// results. Corroboration earns the bonus; an empty or failed web search
// degrades to a plain knowledge base answer at the original confidence.
func (e *Engine) routeHybrid(ctx context.Context, query string, cls intent.Classification, top models.SearchResult, consulted []string) (models.RouteDecision, *models.ResponseEnvelope) {
	webResults := e.searchWeb(ctx, query)

	if len(webResults) == 0 {
		decision := models.RouteDecision{
			Route:      models.RouteKnowledgeBase,
			Confidence: top.Similarity,
			Consulted:  consulted,
			Reasoning:  "mid-band match, web corroboration unavailable",
		}
		return decision, e.envelopeFromEntry(query, top, decision)
	}

	consulted = append(consulted, "web_search")
	confidence := top.Similarity
	reasoning := "mid-band match, web results did not corroborate"

	if termOverlap(cls.Terms, webResults) >= minTermOverlap {
		confidence += e.cfg.HybridBonus
		if confidence > 1 {
			confidence = 1
		}
		reasoning = "mid-band match corroborated by web results"
	}

	decision := models.RouteDecision{
		Route:      models.RouteHybrid,
		Confidence: confidence,
		Consulted:  consulted,
		Reasoning:  reasoning,
	}

	envelope := e.envelopeFromEntry(query, top, decision)
	envelope.Solution = combineWithWeb(envelope.Solution, webResults)
	envelope.Citations = append(envelope.Citations, webCitations(webResults)...)
	return decision, envelope
}

// combineWithWeb appends web-sourced context to a knowledge base answer so
// a hybrid response carries both sources, not just extra citations.
func combineWithWeb(solution string, results []web.SearchResult) string {
	var b strings.Builder
	b.WriteString(solution)
	b.WriteString("\n\nSupporting sources:\n")
	for i, r := range results {
		if i >= 2 {
			break
		}
		b.WriteString("- ")
		b.WriteString(r.Title)
		if r.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(r.Snippet)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func (e *Engine) searchKnowledge(ctx context.Context, query string) []models.SearchResult {
	queryEmbedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("Failed to embed query, skipping knowledge base", zap.Error(err))
		return nil
	}

	results, err := e.index.Search(queryEmbedding, e.cfg.TopK)
	if err != nil {
		logger.Warn("Knowledge base search failed", zap.Error(err))
		return nil
	}
	return results
}

func (e *Engine) searchWeb(ctx context.Context, query string) []web.SearchResult {
	if e.searcher == nil {
		return nil
	}

	metrics.WebSearchTriggered.Inc()
	results, err := e.searcher.Search(ctx, query, e.cfg.WebMaxResults)
	if err != nil {
		if errors.Is(err, models.ErrRecoverable) {
			logger.Warn("Web search failed, continuing without it", zap.Error(err))
			return nil
		}
		logger.Error("Web search failed", zap.Error(err))
		return nil
	}
	return results
}

func (e *Engine) envelopeFromEntry(query string, top models.SearchResult, decision models.RouteDecision) *models.ResponseEnvelope {
	return &models.ResponseEnvelope{
		Query:      query,
		Route:      decision.Route,
		Solution:   top.Entry.Solution,
		Steps:      append([]string(nil), top.Entry.Steps...),
		Citations:  []models.Citation{{Type: "knowledge_base", Locator: top.Entry.ID}},
		Confidence: decision.Confidence,
		EntryID:    top.Entry.ID,
		Consulted:  decision.Consulted,
	}
}

func (e *Engine) finishEnvelope(envelope *models.ResponseEnvelope, start time.Time, rejected bool) *models.ResponseEnvelope {
	envelope.ID = uuid.New().String()
	envelope.LatencyMS = int(time.Since(start).Milliseconds())
	envelope.CreatedAt = time.Now()

	e.statsMu.Lock()
	e.totalQueries++
	e.latencySumMS += int64(envelope.LatencyMS)
	e.routeCounts[envelope.Route]++
	if rejected {
		e.rejectedCount++
	}
	e.statsMu.Unlock()

	if e.store != nil {
		if err := e.store.SaveEnvelope(envelope); err != nil {
			logger.Error("Failed to persist response envelope",
				zap.String("response_id", envelope.ID),
				zap.Error(err),
			)
		}
	}

	return envelope
}

func (e *Engine) Stats() Stats {
	high, low := e.thresholds.Snapshot()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	counts := make(map[models.Route]int64, len(e.routeCounts))
	for route, count := range e.routeCounts {
		counts[route] = count
	}

	stats := Stats{
		TotalQueries:        e.totalQueries,
		GuardrailRejections: e.rejectedCount,
		RouteCounts:         counts,
		HighThreshold:       high,
		LowThreshold:        low,
	}
	if e.totalQueries > 0 {
		stats.AvgLatencyMS = float64(e.latencySumMS) / float64(e.totalQueries)
	}
	return stats
}

func termOverlap(terms []string, results []web.SearchResult) int {
	var content strings.Builder
	for _, r := range results {
		content.WriteString(strings.ToLower(r.Title))
		content.WriteString(" ")
		content.WriteString(strings.ToLower(r.Snippet))
		content.WriteString(" ")
	}
	haystack := content.String()

	overlap := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			overlap++
		}
	}
	return overlap
}

func summarizeWebResults(results []web.SearchResult) string {
	var b strings.Builder
	b.WriteString("I could not answer this from my knowledge base, but these sources look relevant:\n")
	for i, r := range results {
		if i >= 3 {
			break
		}
		b.WriteString("- ")
		b.WriteString(r.Title)
		if r.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(r.Snippet)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func webCitations(results []web.SearchResult) []models.Citation {
	citations := make([]models.Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, models.Citation{Type: "web", Locator: r.URL})
	}
	return citations
}
