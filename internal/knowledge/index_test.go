package knowledge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/math-agent/backend/internal/storage/models"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return NewIndex(3, 0.95, nil)
}

func entry(id string, embedding []float32, quality float64) *models.KnowledgeEntry {
	return &models.KnowledgeEntry{
		ID:        id,
		Question:  "question " + id,
		Solution:  "solution " + id,
		Embedding: embedding,
		Quality:   quality,
	}
}

func TestSearchReturnsExactMatchFirst(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.InsertOrUpdate(entry("a", []float32{1, 0, 0}, 0.5))
	require.NoError(t, err)
	_, err = idx.InsertOrUpdate(entry("b", []float32{0, 1, 0}, 0.5))
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Entry.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.InDelta(t, 0.0, results[1].Similarity, 1e-9)
}

func TestSearchTieBreaksOnQualityThenUsage(t *testing.T) {
	idx := newTestIndex(t)

	lowQuality := entry("low", []float32{1, 0, 0}, 0.3)
	highQuality := entry("high", []float32{0, 1, 0}, 0.9)
	_, err := idx.InsertOrUpdate(lowQuality)
	require.NoError(t, err)
	_, err = idx.InsertOrUpdate(highQuality)
	require.NoError(t, err)

	// Equidistant query: similarity ties, quality decides.
	results, err := idx.Search([]float32{1, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].Entry.ID)

	// Equal quality too: lower usage count wins.
	idx2 := newTestIndex(t)
	_, err = idx2.InsertOrUpdate(entry("used", []float32{1, 0, 0}, 0.5))
	require.NoError(t, err)
	_, err = idx2.InsertOrUpdate(entry("fresh", []float32{0, 1, 0}, 0.5))
	require.NoError(t, err)
	require.NoError(t, idx2.RecordUsage("used"))

	results, err = idx2.Search([]float32{1, 1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "fresh", results[0].Entry.ID)
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.Search([]float32{1, 0}, 3)

	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	idx := newTestIndex(t)

	_, _ = idx.InsertOrUpdate(entry("a", []float32{1, 0, 0}, 0.5))
	_, _ = idx.InsertOrUpdate(entry("b", []float32{0, 1, 0}, 0.5))
	_, _ = idx.InsertOrUpdate(entry("c", []float32{0, 0, 1}, 0.5))

	results, err := idx.Search([]float32{1, 0.5, 0.2}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	results, err := idx.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.InsertOrUpdate(entry("a", []float32{1, 0}, 0.5))

	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestInsertRejectsEmptyFields(t *testing.T) {
	idx := newTestIndex(t)

	e := entry("a", []float32{1, 0, 0}, 0.5)
	e.Question = "  "
	_, err := idx.InsertOrUpdate(e)
	assert.Error(t, err)

	e = entry("b", []float32{1, 0, 0}, 0.5)
	e.Solution = ""
	_, err = idx.InsertOrUpdate(e)
	assert.Error(t, err)
}

func TestInsertMergesNearDuplicate(t *testing.T) {
	idx := newTestIndex(t)

	first := entry("orig", []float32{1, 0, 0}, 0.8)
	first.Topics = []string{"algebra"}
	id1, err := idx.InsertOrUpdate(first)
	require.NoError(t, err)

	dup := entry("", []float32{1, 0.01, 0}, 0.4)
	dup.Solution = "a different take"
	dup.Topics = []string{"equations"}
	id2, err := idx.InsertOrUpdate(dup)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, idx.Count())

	merged, ok := idx.Get(id1)
	require.True(t, ok)
	assert.InDelta(t, 0.6, merged.Quality, 1e-9)
	assert.Contains(t, merged.Alternatives, "a different take")
	assert.ElementsMatch(t, []string{"algebra", "equations"}, merged.Topics)
}

func TestInsertDistinctEntryIsNotMerged(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.InsertOrUpdate(entry("a", []float32{1, 0, 0}, 0.5))
	require.NoError(t, err)
	_, err = idx.InsertOrUpdate(entry("b", []float32{0.5, 0.5, 0.7}, 0.5))
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Count())
}

func TestAdjustQualityClamps(t *testing.T) {
	idx := newTestIndex(t)

	id, err := idx.InsertOrUpdate(entry("a", []float32{1, 0, 0}, 0.95))
	require.NoError(t, err)

	require.NoError(t, idx.AdjustQuality(id, 0.5))
	e, _ := idx.Get(id)
	assert.Equal(t, 1.0, e.Quality)

	require.NoError(t, idx.AdjustQuality(id, -2.0))
	e, _ = idx.Get(id)
	assert.Equal(t, 0.0, e.Quality)
}

func TestAdjustQualityUnknownEntry(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.AdjustQuality("missing", 0.1)

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLoadRejectsDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Load([]models.KnowledgeEntry{
		{ID: "bad", Question: "q", Solution: "s", Embedding: []float32{1, 0}},
	})

	assert.ErrorIs(t, err, models.ErrCorruptIndex)
}

func TestConcurrentSearchDuringRebuild(t *testing.T) {
	idx := newTestIndex(t)
	for _, e := range []*models.KnowledgeEntry{
		entry("a", []float32{1, 0, 0}, 0.5),
		entry("b", []float32{0, 1, 0}, 0.5),
		entry("c", []float32{0, 0, 1}, 0.5),
	} {
		_, err := idx.InsertOrUpdate(e)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				results, err := idx.Search([]float32{1, 1, 1}, 3)
				assert.NoError(t, err)
				assert.Len(t, results, 3)
			}
		}()
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				idx.Rebuild()
			}
		}()
	}
	wg.Wait()
}

func TestResultsAreCopies(t *testing.T) {
	idx := newTestIndex(t)

	id, err := idx.InsertOrUpdate(entry("a", []float32{1, 0, 0}, 0.5))
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	results[0].Entry.Solution = "mutated"

	original, _ := idx.Get(id)
	assert.Equal(t, "solution a", original.Solution)
}

func TestStats(t *testing.T) {
	idx := newTestIndex(t)

	a := entry("a", []float32{1, 0, 0}, 0.4)
	a.Topics = []string{"algebra"}
	b := entry("b", []float32{0, 1, 0}, 0.8)
	b.Topics = []string{"algebra", "calculus"}
	_, _ = idx.InsertOrUpdate(a)
	_, _ = idx.InsertOrUpdate(b)

	stats := idx.Stats()

	assert.Equal(t, 2, stats.EntryCount)
	assert.InDelta(t, 0.6, stats.AvgQuality, 1e-9)
	assert.Equal(t, 2, stats.Topics["algebra"])
	assert.Equal(t, 1, stats.Topics["calculus"])
	assert.Equal(t, 3, stats.Dimension)
}
