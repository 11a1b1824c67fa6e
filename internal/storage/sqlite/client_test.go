package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/math-agent/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func TestKnowledgeEntryRoundtrip(t *testing.T) {
	client := newTestClient(t)

	now := time.Now()
	entry := &models.KnowledgeEntry{
		ID:           "e1",
		Question:     "What is the slope formula?",
		Solution:     "slope = (y2 - y1) / (x2 - x1)",
		Steps:        []string{"identify two points", "divide rise by run"},
		Topics:       []string{"algebra", "slope"},
		Alternatives: []string{"rise over run"},
		Embedding:    []float32{0.1, 0.2, 0.3},
		UsageCount:   2,
		Quality:      0.7,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, client.UpsertKnowledgeEntry(entry))

	entries, err := client.LoadKnowledgeEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	loaded := entries[0]
	assert.Equal(t, entry.ID, loaded.ID)
	assert.Equal(t, entry.Question, loaded.Question)
	assert.Equal(t, entry.Steps, loaded.Steps)
	assert.Equal(t, entry.Topics, loaded.Topics)
	assert.Equal(t, entry.Alternatives, loaded.Alternatives)
	assert.Equal(t, entry.Embedding, loaded.Embedding)
	assert.Equal(t, int64(2), loaded.UsageCount)
	assert.Equal(t, 0.7, loaded.Quality)
}

func TestUpsertOverwritesExisting(t *testing.T) {
	client := newTestClient(t)

	entry := &models.KnowledgeEntry{
		ID:        "e1",
		Question:  "q",
		Solution:  "first",
		Embedding: []float32{1},
		Quality:   0.5,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, client.UpsertKnowledgeEntry(entry))

	entry.Solution = "second"
	entry.Quality = 0.8
	require.NoError(t, client.UpsertKnowledgeEntry(entry))

	entries, err := client.LoadKnowledgeEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Solution)
	assert.Equal(t, 0.8, entries[0].Quality)
}

func TestUpdateQualityAndUsage(t *testing.T) {
	client := newTestClient(t)

	entry := &models.KnowledgeEntry{
		ID:        "e1",
		Question:  "q",
		Solution:  "s",
		Embedding: []float32{1},
		Quality:   0.5,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, client.UpsertKnowledgeEntry(entry))

	require.NoError(t, client.UpdateEntryQuality("e1", 0.9))
	require.NoError(t, client.IncrementEntryUsage("e1"))
	require.NoError(t, client.IncrementEntryUsage("e1"))

	entries, err := client.LoadKnowledgeEntries()
	require.NoError(t, err)
	assert.Equal(t, 0.9, entries[0].Quality)
	assert.Equal(t, int64(2), entries[0].UsageCount)
}

func TestEnvelopeRoundtrip(t *testing.T) {
	client := newTestClient(t)

	env := &models.ResponseEnvelope{
		ID:       "r1",
		Query:    "What is the quadratic formula?",
		Route:    models.RouteKnowledgeBase,
		Solution: "x = (-b ± √(b²-4ac)) / (2a)",
		Steps:    []string{"apply the formula"},
		Citations: []models.Citation{
			{Type: "knowledge_base", Locator: "e1"},
			{Type: "web", Locator: "https://example.org"},
		},
		Confidence: 0.91,
		LatencyMS:  42,
		EntryID:    "e1",
		Consulted:  []string{"knowledge_base"},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, client.SaveEnvelope(env))

	loaded, err := client.GetEnvelope("r1")
	require.NoError(t, err)

	assert.Equal(t, env.Query, loaded.Query)
	assert.Equal(t, models.RouteKnowledgeBase, loaded.Route)
	assert.Equal(t, env.Steps, loaded.Steps)
	assert.Equal(t, env.Consulted, loaded.Consulted)
	assert.Equal(t, 0.91, loaded.Confidence)
	assert.Len(t, loaded.Citations, 2)
}

func TestGetEnvelopeNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetEnvelope("missing")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInsertFeedbackIsIdempotent(t *testing.T) {
	client := newTestClient(t)

	env := &models.ResponseEnvelope{
		ID:        "r1",
		Query:     "q",
		Route:     models.RouteKnowledgeBase,
		Solution:  "s",
		CreatedAt: time.Now(),
	}
	require.NoError(t, client.SaveEnvelope(env))

	fb := &models.Feedback{
		ResponseID: "r1",
		Rating:     5,
		Helpful:    true,
		Correct:    true,
		CreatedAt:  time.Now(),
	}

	inserted, err := client.InsertFeedback(fb)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = client.InsertFeedback(fb)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestFeedbackStatsRoundtrip(t *testing.T) {
	client := newTestClient(t)

	_, err := client.LoadFeedbackStats()
	assert.ErrorIs(t, err, models.ErrNotFound)

	stats := &models.FeedbackStats{
		Global: models.RouteStats{Count: 3, RatingSum: 12, MeanRating: 4.0},
		ByRoute: map[models.Route]*models.RouteStats{
			models.RouteHybrid: {Count: 2, RatingSum: 9, MeanRating: 4.5},
		},
	}
	require.NoError(t, client.SaveFeedbackStats(stats))

	loaded, err := client.LoadFeedbackStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Global.Count)
	assert.Equal(t, 4.5, loaded.ByRoute[models.RouteHybrid].MeanRating)
}

func TestThresholdsRoundtrip(t *testing.T) {
	client := newTestClient(t)

	_, _, err := client.LoadThresholds()
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, client.SaveThresholds(0.82, 0.48))
	require.NoError(t, client.SaveThresholds(0.84, 0.46))

	high, low, err := client.LoadThresholds()
	require.NoError(t, err)
	assert.Equal(t, 0.84, high)
	assert.Equal(t, 0.46, low)
}

func TestDeleteEnvelopesBeforeCascades(t *testing.T) {
	client := newTestClient(t)

	old := &models.ResponseEnvelope{
		ID:        "old",
		Query:     "q",
		Route:     models.RouteWebSearch,
		Solution:  "s",
		Citations: []models.Citation{{Type: "web", Locator: "https://example.org"}},
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &models.ResponseEnvelope{
		ID:        "fresh",
		Query:     "q",
		Route:     models.RouteKnowledgeBase,
		Solution:  "s",
		CreatedAt: time.Now(),
	}
	require.NoError(t, client.SaveEnvelope(old))
	require.NoError(t, client.SaveEnvelope(fresh))

	fb := &models.Feedback{ResponseID: "old", Rating: 3, CreatedAt: time.Now()}
	_, err := client.InsertFeedback(fb)
	require.NoError(t, err)

	deleted, err := client.DeleteEnvelopesBefore(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = client.GetEnvelope("old")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = client.GetEnvelope("fresh")
	assert.NoError(t, err)
}
