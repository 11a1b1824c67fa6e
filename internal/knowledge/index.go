package knowledge

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

// Store persists index mutations. A nil store keeps the index memory-only.
type Store interface {
	UpsertKnowledgeEntry(*models.KnowledgeEntry) error
	UpdateEntryQuality(id string, quality float64) error
	IncrementEntryUsage(id string) error
}

type Index struct {
	mu           sync.RWMutex
	dimension    int
	dupThreshold float64
	entries      map[string]*models.KnowledgeEntry
	searchable   []*models.KnowledgeEntry
	store        Store
	lastRebuilt  time.Time
}

func NewIndex(dimension int, dupThreshold float64, store Store) *Index {
	if dupThreshold == 0 {
		dupThreshold = 0.95
	}
	return &Index{
		dimension:    dimension,
		dupThreshold: dupThreshold,
		entries:      make(map[string]*models.KnowledgeEntry),
		store:        store,
	}
}

// Load replaces the index contents with a persisted snapshot. A dimension
// mismatch means the snapshot does not belong to this index configuration,
// which is treated as corruption: the caller must refuse to serve.
func (idx *Index) Load(entries []models.KnowledgeEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	loaded := make(map[string]*models.KnowledgeEntry, len(entries))
	for i := range entries {
		e := entries[i]
		if len(e.Embedding) != idx.dimension {
			return fmt.Errorf("%w: entry %s has dimension %d, index expects %d",
				models.ErrCorruptIndex, e.ID, len(e.Embedding), idx.dimension)
		}
		loaded[e.ID] = &e
	}

	idx.entries = loaded
	idx.searchable = buildSearchable(loaded)
	idx.lastRebuilt = time.Now()

	logger.Info("Knowledge index loaded", zap.Int("entries", len(loaded)))
	return nil
}

func (idx *Index) Search(queryEmbedding []float32, topK int) ([]models.SearchResult, error) {
	if len(queryEmbedding) != idx.dimension {
		return nil, &models.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match index dimension %d", len(queryEmbedding), idx.dimension),
		}
	}
	if topK <= 0 {
		topK = 3
	}

	idx.mu.RLock()
	snapshot := idx.searchable
	results := make([]models.SearchResult, 0, len(snapshot))
	for _, e := range snapshot {
		sim := cosineSimilarity(queryEmbedding, e.Embedding)
		if sim < 0 {
			sim = 0
		}
		entry := copyEntry(e)
		results = append(results, models.SearchResult{Entry: entry, Similarity: sim})
	}
	idx.mu.RUnlock()

	// Similarity wins; among equals prefer higher quality, then the entry
	// that has been served less often.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Entry.Quality != results[j].Entry.Quality {
			return results[i].Entry.Quality > results[j].Entry.Quality
		}
		return results[i].Entry.UsageCount < results[j].Entry.UsageCount
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (idx *Index) InsertOrUpdate(entry *models.KnowledgeEntry) (string, error) {
	if len(entry.Embedding) != idx.dimension {
		return "", &models.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match index dimension %d", len(entry.Embedding), idx.dimension),
		}
	}
	if strings.TrimSpace(entry.Question) == "" {
		return "", &models.ValidationError{Field: "question", Message: "must not be empty"}
	}
	if strings.TrimSpace(entry.Solution) == "" {
		return "", &models.ValidationError{Field: "solution", Message: "must not be empty"}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := time.Now()

	if dup := idx.nearestLocked(entry.Embedding); dup != nil {
		sim := cosineSimilarity(entry.Embedding, dup.Embedding)
		if sim >= idx.dupThreshold {
			// Near-duplicate questions merge instead of accumulating copies:
			// the incoming solution becomes an alternative, never an overwrite.
			dup.Quality = (dup.Quality + effectiveQuality(entry)) / 2
			if entry.Solution != dup.Solution && !contains(dup.Alternatives, entry.Solution) {
				dup.Alternatives = append(dup.Alternatives, entry.Solution)
			}
			dup.Topics = unionStrings(dup.Topics, entry.Topics)
			dup.UpdatedAt = now

			if err := idx.persistLocked(dup); err != nil {
				return "", err
			}

			logger.Info("Merged near-duplicate knowledge entry",
				zap.String("entry_id", dup.ID),
				zap.Float64("similarity", sim),
			)
			return dup.ID, nil
		}
	}

	fresh := copyEntry(entry)
	if fresh.ID == "" {
		fresh.ID = uuid.New().String()
	}
	if fresh.Quality == 0 {
		fresh.Quality = 0.5
	}
	if fresh.CreatedAt.IsZero() {
		fresh.CreatedAt = now
	}
	fresh.UpdatedAt = now

	idx.entries[fresh.ID] = fresh
	idx.searchable = append(idx.searchable, fresh)

	if err := idx.persistLocked(fresh); err != nil {
		delete(idx.entries, fresh.ID)
		idx.searchable = idx.searchable[:len(idx.searchable)-1]
		return "", err
	}

	logger.Info("Knowledge entry inserted",
		zap.String("entry_id", fresh.ID),
		zap.Strings("topics", fresh.Topics),
	)
	return fresh.ID, nil
}

// Rebuild recomputes the searchable slice from the entry set and swaps it in
// atomically: in-flight searches see either the old structure or the new one.
func (idx *Index) Rebuild() {
	idx.mu.RLock()
	entries := make(map[string]*models.KnowledgeEntry, len(idx.entries))
	for id, e := range idx.entries {
		entries[id] = e
	}
	idx.mu.RUnlock()

	rebuilt := buildSearchable(entries)

	idx.mu.Lock()
	idx.searchable = rebuilt
	idx.lastRebuilt = time.Now()
	idx.mu.Unlock()

	logger.Info("Knowledge index rebuilt", zap.Int("entries", len(rebuilt)))
}

func (idx *Index) AdjustQuality(entryID string, delta float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[entryID]
	if !ok {
		return models.ErrNotFound
	}

	quality := entry.Quality + delta
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	entry.Quality = quality
	entry.UpdatedAt = time.Now()

	if idx.store != nil {
		if err := idx.store.UpdateEntryQuality(entryID, quality); err != nil {
			return err
		}
	}

	logger.Debug("Entry quality adjusted",
		zap.String("entry_id", entryID),
		zap.Float64("delta", delta),
		zap.Float64("quality", quality),
	)
	return nil
}

func (idx *Index) RecordUsage(entryID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[entryID]
	if !ok {
		return models.ErrNotFound
	}
	entry.UsageCount++

	if idx.store != nil {
		return idx.store.IncrementEntryUsage(entryID)
	}
	return nil
}

func (idx *Index) Get(entryID string) (*models.KnowledgeEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.entries[entryID]
	if !ok {
		return nil, false
	}
	return copyEntry(entry), true
}

func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func (idx *Index) Dimension() int {
	return idx.dimension
}

func (idx *Index) Stats() models.KnowledgeBaseStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := models.KnowledgeBaseStats{
		EntryCount:  len(idx.entries),
		Dimension:   idx.dimension,
		Topics:      make(map[string]int),
		LastRebuilt: idx.lastRebuilt,
	}

	var qualitySum float64
	for _, e := range idx.entries {
		qualitySum += e.Quality
		for _, topic := range e.Topics {
			stats.Topics[topic]++
		}
	}
	if len(idx.entries) > 0 {
		stats.AvgQuality = qualitySum / float64(len(idx.entries))
	}

	return stats
}

func (idx *Index) nearestLocked(embedding []float32) *models.KnowledgeEntry {
	var best *models.KnowledgeEntry
	bestSim := -1.0
	for _, e := range idx.entries {
		sim := cosineSimilarity(embedding, e.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = e
		}
	}
	return best
}

func (idx *Index) persistLocked(entry *models.KnowledgeEntry) error {
	if idx.store == nil {
		return nil
	}
	if err := idx.store.UpsertKnowledgeEntry(entry); err != nil {
		return fmt.Errorf("failed to persist knowledge entry: %w", err)
	}
	return nil
}

func buildSearchable(entries map[string]*models.KnowledgeEntry) []*models.KnowledgeEntry {
	searchable := make([]*models.KnowledgeEntry, 0, len(entries))
	for _, e := range entries {
		searchable = append(searchable, e)
	}
	sort.Slice(searchable, func(i, j int) bool {
		return searchable[i].ID < searchable[j].ID
	})
	return searchable
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func copyEntry(e *models.KnowledgeEntry) *models.KnowledgeEntry {
	dup := *e
	dup.Steps = append([]string(nil), e.Steps...)
	dup.Topics = append([]string(nil), e.Topics...)
	dup.Alternatives = append([]string(nil), e.Alternatives...)
	dup.Embedding = append([]float32(nil), e.Embedding...)
	return &dup
}

func effectiveQuality(e *models.KnowledgeEntry) float64 {
	if e.Quality == 0 {
		return 0.5
	}
	return e.Quality
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
