package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/math-agent/backend/internal/knowledge"
	"github.com/math-agent/backend/internal/routing"
	"github.com/math-agent/backend/internal/storage/models"
)

type memStore struct {
	envelopes  map[string]*models.ResponseEnvelope
	feedback   map[string]*models.Feedback
	stats      *models.FeedbackStats
	thresholds [2]float64
	swept      int64
}

func newMemStore() *memStore {
	return &memStore{
		envelopes: make(map[string]*models.ResponseEnvelope),
		feedback:  make(map[string]*models.Feedback),
	}
}

func (m *memStore) GetEnvelope(id string) (*models.ResponseEnvelope, error) {
	env, ok := m.envelopes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return env, nil
}

func (m *memStore) InsertFeedback(f *models.Feedback) (bool, error) {
	if _, exists := m.feedback[f.ResponseID]; exists {
		return false, nil
	}
	m.feedback[f.ResponseID] = f
	return true, nil
}

func (m *memStore) SaveFeedbackStats(stats *models.FeedbackStats) error {
	m.stats = stats
	return nil
}

func (m *memStore) LoadFeedbackStats() (*models.FeedbackStats, error) {
	return m.stats, nil
}

func (m *memStore) SaveThresholds(high, low float64) error {
	m.thresholds = [2]float64{high, low}
	return nil
}

func (m *memStore) DeleteEnvelopesBefore(cutoff time.Time) (int64, error) {
	return m.swept, nil
}

func embedConstant(vec []float32) knowledge.EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return vec, nil
	}
}

type fixture struct {
	engine     *Engine
	store      *memStore
	index      *knowledge.Index
	thresholds *routing.Thresholds
	entryID    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	index := knowledge.NewIndex(3, 0.95, nil)
	entryID, err := index.InsertOrUpdate(&models.KnowledgeEntry{
		Question:  "What is the slope formula?",
		Solution:  "slope = (y2 - y1) / (x2 - x1)",
		Embedding: []float32{1, 0, 0},
		Quality:   0.5,
	})
	require.NoError(t, err)

	thresholds := routing.NewThresholds(0.80, 0.50, 0.02)

	engine, err := NewEngine(store, index, embedConstant([]float32{0, 1, 0}), thresholds, Config{
		RetentionHours: 24,
		QualityStep:    0.05,
		ThresholdStep:  0.02,
		RebuildBatch:   25,
	})
	require.NoError(t, err)

	return &fixture{
		engine:     engine,
		store:      store,
		index:      index,
		thresholds: thresholds,
		entryID:    entryID,
	}
}

func (f *fixture) addEnvelope(id string, route models.Route, entryID string, age time.Duration) {
	f.store.envelopes[id] = &models.ResponseEnvelope{
		ID:        id,
		Query:     "What is the slope formula?",
		Route:     route,
		EntryID:   entryID,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestIngestUpdatesStatsAndQuality(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("r1", models.RouteKnowledgeBase, f.entryID, time.Minute)

	err := f.engine.Ingest(context.Background(), &models.Feedback{
		ResponseID: "r1",
		Rating:     5,
		Helpful:    true,
		Correct:    true,
		Clear:      true,
		Complete:   true,
	})
	require.NoError(t, err)

	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.Global.Count)
	assert.Equal(t, 5.0, stats.Global.MeanRating)
	assert.Equal(t, int64(1), stats.ByRoute[models.RouteKnowledgeBase].Helpful)

	entry, ok := f.index.Get(f.entryID)
	require.True(t, ok)
	assert.InDelta(t, 0.55, entry.Quality, 1e-9)

	assert.NotNil(t, f.store.stats)
}

func TestIngestNegativeFeedbackLowersQuality(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("r1", models.RouteKnowledgeBase, f.entryID, time.Minute)

	err := f.engine.Ingest(context.Background(), &models.Feedback{
		ResponseID: "r1",
		Rating:     1,
		Correct:    false,
	})
	require.NoError(t, err)

	entry, _ := f.index.Get(f.entryID)
	assert.InDelta(t, 0.45, entry.Quality, 1e-9)
}

func TestIngestMidRatingLeavesQualityAlone(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("r1", models.RouteKnowledgeBase, f.entryID, time.Minute)

	err := f.engine.Ingest(context.Background(), &models.Feedback{
		ResponseID: "r1",
		Rating:     3,
		Correct:    true,
	})
	require.NoError(t, err)

	entry, _ := f.index.Get(f.entryID)
	assert.InDelta(t, 0.5, entry.Quality, 1e-9)
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("r1", models.RouteKnowledgeBase, f.entryID, time.Minute)

	fb := &models.Feedback{ResponseID: "r1", Rating: 5, Helpful: true, Correct: true}
	require.NoError(t, f.engine.Ingest(context.Background(), fb))

	repeat := &models.Feedback{ResponseID: "r1", Rating: 1, Correct: false}
	require.NoError(t, f.engine.Ingest(context.Background(), repeat))

	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.Global.Count)

	entry, _ := f.index.Get(f.entryID)
	assert.InDelta(t, 0.55, entry.Quality, 1e-9)
}

func TestIngestRejectsInvalidRating(t *testing.T) {
	f := newFixture(t)

	var validationErr *models.ValidationError
	err := f.engine.Ingest(context.Background(), &models.Feedback{ResponseID: "r1", Rating: 0})
	assert.ErrorAs(t, err, &validationErr)

	err = f.engine.Ingest(context.Background(), &models.Feedback{ResponseID: "r1", Rating: 6})
	assert.ErrorAs(t, err, &validationErr)
}

func TestIngestRejectsUnknownResponse(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Ingest(context.Background(), &models.Feedback{ResponseID: "ghost", Rating: 4})

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIngestRejectsExpiredResponse(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("old", models.RouteKnowledgeBase, f.entryID, 25*time.Hour)

	err := f.engine.Ingest(context.Background(), &models.Feedback{ResponseID: "old", Rating: 4})

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIngestStagesCorrection(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("r1", models.RouteKnowledgeBase, f.entryID, time.Minute)

	err := f.engine.Ingest(context.Background(), &models.Feedback{
		ResponseID:          "r1",
		Rating:              2,
		Correct:             false,
		AlternativeSolution: "slope is rise over run: (y2-y1)/(x2-x1)",
	})
	require.NoError(t, err)

	// Original entry plus the staged correction.
	assert.Equal(t, 2, f.index.Count())

	stats := f.index.Stats()
	assert.Equal(t, 2, stats.EntryCount)
}

func TestIngestPositiveFeedbackNeverStagesCorrection(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("r1", models.RouteKnowledgeBase, f.entryID, time.Minute)

	// A well-rated, correct answer with a suggested alternative is praise,
	// not a correction: nothing gets staged.
	err := f.engine.Ingest(context.Background(), &models.Feedback{
		ResponseID:          "r1",
		Rating:              5,
		Helpful:             true,
		Correct:             true,
		AlternativeSolution: "you can also read slope off the graph directly",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.index.Count())

	entry, ok := f.index.Get(f.entryID)
	require.True(t, ok)
	assert.InDelta(t, 0.55, entry.Quality, 1e-9)
}

func TestApplyImprovementsRaisesHighGateOnPoorKnowledgeBase(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		f.addEnvelope(id, models.RouteKnowledgeBase, "", time.Minute)
		require.NoError(t, f.engine.Ingest(context.Background(), &models.Feedback{
			ResponseID: id,
			Rating:     1,
		}))
	}

	report, err := f.engine.ApplyImprovements(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.82, report.HighThreshold, 1e-9)
	assert.InDelta(t, 0.50, report.LowThreshold, 1e-9)
	assert.Equal(t, [2]float64{report.HighThreshold, report.LowThreshold}, f.store.thresholds)
}

func TestApplyImprovementsLowersLowGateOnStrongHybrid(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		f.addEnvelope(id, models.RouteHybrid, "", time.Minute)
		require.NoError(t, f.engine.Ingest(context.Background(), &models.Feedback{
			ResponseID: id,
			Rating:     5,
			Helpful:    true,
			Correct:    true,
		}))
	}

	report, err := f.engine.ApplyImprovements(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.48, report.LowThreshold, 1e-9)
}

func TestApplyImprovementsIsBoundedPerPass(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		f.addEnvelope(id, models.RouteKnowledgeBase, "", time.Minute)
		require.NoError(t, f.engine.Ingest(context.Background(), &models.Feedback{
			ResponseID: id,
			Rating:     1,
		}))
	}

	first, err := f.engine.ApplyImprovements(context.Background())
	require.NoError(t, err)
	second, err := f.engine.ApplyImprovements(context.Background())
	require.NoError(t, err)

	// One step per pass, no matter how lopsided the stats are.
	assert.InDelta(t, 0.82, first.HighThreshold, 1e-9)
	assert.InDelta(t, 0.84, second.HighThreshold, 1e-9)
}

func TestStatsReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.addEnvelope("r1", models.RouteKnowledgeBase, "", time.Minute)
	require.NoError(t, f.engine.Ingest(context.Background(), &models.Feedback{ResponseID: "r1", Rating: 4, Helpful: true, Correct: true}))

	stats := f.engine.Stats()
	stats.ByRoute[models.RouteKnowledgeBase].Count = 99

	fresh := f.engine.Stats()
	assert.Equal(t, int64(1), fresh.ByRoute[models.RouteKnowledgeBase].Count)
}
