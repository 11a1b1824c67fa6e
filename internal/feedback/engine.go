package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/knowledge"
	"github.com/math-agent/backend/internal/metrics"
	"github.com/math-agent/backend/internal/routing"
	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

// Store is the persistence surface the engine needs; *sqlite.Client
// satisfies it.
type Store interface {
	GetEnvelope(id string) (*models.ResponseEnvelope, error)
	InsertFeedback(f *models.Feedback) (bool, error)
	SaveFeedbackStats(stats *models.FeedbackStats) error
	LoadFeedbackStats() (*models.FeedbackStats, error)
	SaveThresholds(high, low float64) error
	DeleteEnvelopesBefore(cutoff time.Time) (int64, error)
}

type Config struct {
	RetentionHours int
	QualityStep    float64
	ThresholdStep  float64
	RebuildBatch   int
}

// Engine ingests feedback on served responses: it updates per-route
// statistics, adjusts the quality of the knowledge entry that produced the
// answer, and stages suggested corrections as new knowledge entries.
type Engine struct {
	mu          sync.Mutex
	store       Store
	index       *knowledge.Index
	embed       knowledge.EmbedFunc
	thresholds  *routing.Thresholds
	stats       *models.FeedbackStats
	cfg         Config
	stagedSince int
}

func NewEngine(store Store, index *knowledge.Index, embed knowledge.EmbedFunc, thresholds *routing.Thresholds, cfg Config) (*Engine, error) {
	if cfg.RetentionHours == 0 {
		cfg.RetentionHours = 24
	}
	if cfg.QualityStep == 0 {
		cfg.QualityStep = 0.05
	}
	if cfg.ThresholdStep == 0 {
		cfg.ThresholdStep = 0.02
	}
	if cfg.RebuildBatch == 0 {
		cfg.RebuildBatch = 25
	}

	stats, err := store.LoadFeedbackStats()
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load feedback stats: %w", err)
	}
	if stats == nil {
		stats = &models.FeedbackStats{ByRoute: make(map[models.Route]*models.RouteStats)}
	}
	if stats.ByRoute == nil {
		stats.ByRoute = make(map[models.Route]*models.RouteStats)
	}

	return &Engine{
		store:      store,
		index:      index,
		embed:      embed,
		thresholds: thresholds,
		stats:      stats,
		cfg:        cfg,
	}, nil
}

// Ingest records one feedback submission. Repeat submissions for the same
// response id are ignored, and feedback on responses older than the
// retention window is rejected.
func (e *Engine) Ingest(ctx context.Context, fb *models.Feedback) error {
	if fb.Rating < 1 || fb.Rating > 5 {
		return &models.ValidationError{Field: "rating", Message: "must be between 1 and 5"}
	}

	envelope, err := e.store.GetEnvelope(fb.ResponseID)
	if err != nil {
		metrics.FeedbackTotal.WithLabelValues("unknown_response").Inc()
		return fmt.Errorf("failed to look up response %s: %w", fb.ResponseID, err)
	}

	if age := time.Since(envelope.CreatedAt); age > time.Duration(e.cfg.RetentionHours)*time.Hour {
		metrics.FeedbackTotal.WithLabelValues("expired").Inc()
		return fmt.Errorf("response %s is outside the feedback window: %w", fb.ResponseID, models.ErrNotFound)
	}

	fb.CreatedAt = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	inserted, err := e.store.InsertFeedback(fb)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	if !inserted {
		metrics.FeedbackTotal.WithLabelValues("duplicate").Inc()
		logger.Info("Duplicate feedback ignored", zap.String("response_id", fb.ResponseID))
		return nil
	}

	e.applyStatsLocked(envelope.Route, fb)

	if envelope.EntryID != "" {
		e.adjustEntryQualityLocked(envelope.EntryID, fb)
	}

	// Corrections are staged only for answers the user actually flagged:
	// a well-rated, correct response never seeds a low-quality entry.
	hasCorrection := fb.AlternativeSolution != "" || fb.SuggestedImprovement != ""
	if hasCorrection && (fb.Rating <= 2 || !fb.Correct) {
		if err := e.stageCorrectionLocked(ctx, envelope, fb); err != nil {
			logger.Warn("Failed to stage correction", zap.Error(err))
		}
	}

	if err := e.store.SaveFeedbackStats(e.stats); err != nil {
		logger.Error("Failed to persist feedback stats", zap.Error(err))
	}

	metrics.FeedbackTotal.WithLabelValues("accepted").Inc()
	if rs, ok := e.stats.ByRoute[envelope.Route]; ok {
		metrics.UserSatisfaction.WithLabelValues(string(envelope.Route)).Set(rs.MeanRating)
	}

	logger.Info("Feedback ingested",
		zap.String("response_id", fb.ResponseID),
		zap.String("route", string(envelope.Route)),
		zap.Int("rating", fb.Rating),
	)
	return nil
}

func (e *Engine) applyStatsLocked(route models.Route, fb *models.Feedback) {
	update := func(rs *models.RouteStats) {
		rs.Count++
		rs.RatingSum += int64(fb.Rating)
		rs.MeanRating = float64(rs.RatingSum) / float64(rs.Count)
		incrFlag(&rs.Helpful, &rs.NotHelpful, fb.Helpful)
		incrFlag(&rs.Correct, &rs.Incorrect, fb.Correct)
		incrFlag(&rs.Clear, &rs.Unclear, fb.Clear)
		incrFlag(&rs.Complete, &rs.Incomplete, fb.Complete)
		rs.LastUpdated = time.Now()
	}

	update(&e.stats.Global)

	rs, ok := e.stats.ByRoute[route]
	if !ok {
		rs = &models.RouteStats{}
		e.stats.ByRoute[route] = rs
	}
	update(rs)
}

// adjustEntryQualityLocked nudges entry quality one step per feedback:
// up when the answer was rated well and correct, down when rated poorly
// or flagged incorrect. Mid ratings leave quality untouched.
func (e *Engine) adjustEntryQualityLocked(entryID string, fb *models.Feedback) {
	var delta float64
	switch {
	case !fb.Correct || fb.Rating <= 2:
		delta = -e.cfg.QualityStep
	case fb.Rating >= 4 && fb.Helpful:
		delta = e.cfg.QualityStep
	default:
		return
	}

	if err := e.index.AdjustQuality(entryID, delta); err != nil {
		logger.Warn("Failed to adjust entry quality",
			zap.String("entry_id", entryID),
			zap.Error(err),
		)
	}
}

// stageCorrectionLocked turns a user-suggested fix into a provisional
// knowledge entry. It starts below seed quality so it has to earn trust
// through later feedback.
func (e *Engine) stageCorrectionLocked(ctx context.Context, envelope *models.ResponseEnvelope, fb *models.Feedback) error {
	solution := fb.AlternativeSolution
	if solution == "" {
		solution = fb.SuggestedImprovement
	}

	entry := &models.KnowledgeEntry{
		Question: envelope.Query,
		Solution: solution,
		Quality:  0.4,
	}

	embedding, err := e.embed(ctx, knowledge.EmbedText(entry))
	if err != nil {
		return fmt.Errorf("failed to embed correction: %w", err)
	}
	entry.Embedding = embedding

	entryID, err := e.index.InsertOrUpdate(entry)
	if err != nil {
		return fmt.Errorf("failed to stage correction: %w", err)
	}

	metrics.KnowledgeEntriesTotal.Set(float64(e.index.Count()))

	e.stagedSince++
	if e.stagedSince >= e.cfg.RebuildBatch {
		e.stagedSince = 0
		e.index.Rebuild()
	}

	logger.Info("Correction staged as knowledge entry",
		zap.String("response_id", envelope.ID),
		zap.String("entry_id", entryID),
	)
	return nil
}

// Stats returns a copy of the accumulated feedback statistics.
func (e *Engine) Stats() models.FeedbackStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := models.FeedbackStats{
		Global:  e.stats.Global,
		ByRoute: make(map[models.Route]*models.RouteStats, len(e.stats.ByRoute)),
	}
	for route, rs := range e.stats.ByRoute {
		dup := *rs
		out.ByRoute[route] = &dup
	}
	return out
}

// ImprovementReport describes the adjustments one improvement pass made.
type ImprovementReport struct {
	HighThreshold float64 `json:"high_threshold"`
	LowThreshold  float64 `json:"low_threshold"`
	HighDirection float64 `json:"high_direction"`
	LowDirection  float64 `json:"low_direction"`
	EntriesSwept  int64   `json:"entries_swept"`
}

// ApplyImprovements recomputes the routing thresholds from accumulated
// per-route feedback and sweeps expired envelopes. Threshold movement is
// bounded to one step per pass regardless of how lopsided the stats are.
func (e *Engine) ApplyImprovements(ctx context.Context) (*ImprovementReport, error) {
	e.mu.Lock()
	highDir, lowDir := e.directionsLocked()
	e.mu.Unlock()

	high, low := e.thresholds.Nudge(highDir, lowDir)
	if err := e.store.SaveThresholds(high, low); err != nil {
		return nil, fmt.Errorf("failed to persist thresholds: %w", err)
	}

	metrics.ThresholdValue.WithLabelValues("high").Set(high)
	metrics.ThresholdValue.WithLabelValues("low").Set(low)

	cutoff := time.Now().Add(-time.Duration(e.cfg.RetentionHours) * time.Hour)
	swept, err := e.store.DeleteEnvelopesBefore(cutoff)
	if err != nil {
		logger.Warn("Envelope retention sweep failed", zap.Error(err))
	}

	e.index.Rebuild()

	logger.Info("Improvement pass applied",
		zap.Float64("high_threshold", high),
		zap.Float64("low_threshold", low),
		zap.Int64("envelopes_swept", swept),
	)

	return &ImprovementReport{
		HighThreshold: high,
		LowThreshold:  low,
		HighDirection: highDir,
		LowDirection:  lowDir,
		EntriesSwept:  swept,
	}, nil
}

// directionsLocked derives threshold pressure from route performance:
// a poorly rated knowledge_base route means the high gate is letting weak
// matches through, so it rises; a well rated hybrid route means the mid
// band is earning trust, so the low gate can come down.
func (e *Engine) directionsLocked() (highDir, lowDir float64) {
	step := e.cfg.ThresholdStep

	if kb, ok := e.stats.ByRoute[models.RouteKnowledgeBase]; ok && kb.Count >= 5 {
		switch {
		case kb.MeanRating < 3.0:
			highDir = step
		case kb.MeanRating > 4.0:
			highDir = -step
		}
	}

	if hy, ok := e.stats.ByRoute[models.RouteHybrid]; ok && hy.Count >= 5 {
		switch {
		case hy.MeanRating > 4.0:
			lowDir = -step
		case hy.MeanRating < 3.0:
			lowDir = step
		}
	}

	return highDir, lowDir
}

func incrFlag(yes, no *int64, value bool) {
	if value {
		*yes++
	} else {
		*no++
	}
}
