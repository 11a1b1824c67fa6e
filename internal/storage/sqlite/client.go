package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_entries (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		solution TEXT NOT NULL,
		steps TEXT NOT NULL,
		topics TEXT NOT NULL,
		alternatives TEXT NOT NULL,
		embedding TEXT NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0,
		quality REAL NOT NULL DEFAULT 0.5,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_quality ON knowledge_entries(quality);

	CREATE TABLE IF NOT EXISTS response_envelopes (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		route TEXT NOT NULL,
		solution TEXT NOT NULL,
		steps TEXT NOT NULL,
		confidence REAL NOT NULL,
		latency_ms INTEGER NOT NULL,
		entry_id TEXT,
		consulted TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_envelopes_created ON response_envelopes(created_at);

	CREATE TABLE IF NOT EXISTS envelope_citations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		envelope_id TEXT NOT NULL,
		citation_type TEXT NOT NULL,
		locator TEXT NOT NULL,
		FOREIGN KEY (envelope_id) REFERENCES response_envelopes(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_citations_envelope ON envelope_citations(envelope_id);

	CREATE TABLE IF NOT EXISTS feedback (
		response_id TEXT PRIMARY KEY,
		rating INTEGER NOT NULL,
		helpful INTEGER NOT NULL,
		correct INTEGER NOT NULL,
		clear INTEGER NOT NULL,
		complete INTEGER NOT NULL,
		comments TEXT,
		suggested_improvement TEXT,
		alternative_solution TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (response_id) REFERENCES response_envelopes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS feedback_stats (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		stats TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS routing_thresholds (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		high REAL NOT NULL,
		low REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) UpsertKnowledgeEntry(e *models.KnowledgeEntry) error {
	stepsJSON, _ := json.Marshal(e.Steps)
	topicsJSON, _ := json.Marshal(e.Topics)
	altsJSON, _ := json.Marshal(e.Alternatives)
	embJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO knowledge_entries (id, question, solution, steps, topics, alternatives,
			embedding, usage_count, quality, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			solution = excluded.solution,
			steps = excluded.steps,
			topics = excluded.topics,
			alternatives = excluded.alternatives,
			embedding = excluded.embedding,
			usage_count = excluded.usage_count,
			quality = excluded.quality,
			updated_at = excluded.updated_at
	`

	_, err = c.db.Exec(
		query,
		e.ID,
		e.Question,
		e.Solution,
		string(stepsJSON),
		string(topicsJSON),
		string(altsJSON),
		string(embJSON),
		e.UsageCount,
		e.Quality,
		e.CreatedAt.Unix(),
		e.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert knowledge entry: %w", err)
	}

	logger.Debug("Knowledge entry persisted", zap.String("entry_id", e.ID))
	return nil
}

func (c *Client) LoadKnowledgeEntries() ([]models.KnowledgeEntry, error) {
	query := `
		SELECT id, question, solution, steps, topics, alternatives, embedding,
			usage_count, quality, created_at, updated_at
		FROM knowledge_entries
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []models.KnowledgeEntry
	for rows.Next() {
		var e models.KnowledgeEntry
		var stepsJSON, topicsJSON, altsJSON, embJSON string
		var createdAt, updatedAt int64

		err := rows.Scan(&e.ID, &e.Question, &e.Solution, &stepsJSON, &topicsJSON,
			&altsJSON, &embJSON, &e.UsageCount, &e.Quality, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(embJSON), &e.Embedding); err != nil {
			return nil, fmt.Errorf("%w: entry %s has unreadable embedding", models.ErrCorruptIndex, e.ID)
		}
		json.Unmarshal([]byte(stepsJSON), &e.Steps)
		json.Unmarshal([]byte(topicsJSON), &e.Topics)
		json.Unmarshal([]byte(altsJSON), &e.Alternatives)

		e.CreatedAt = time.Unix(createdAt, 0)
		e.UpdatedAt = time.Unix(updatedAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (c *Client) UpdateEntryQuality(id string, quality float64) error {
	_, err := c.db.Exec(
		`UPDATE knowledge_entries SET quality = ?, updated_at = ? WHERE id = ?`,
		quality, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry quality: %w", err)
	}
	return nil
}

func (c *Client) IncrementEntryUsage(id string) error {
	_, err := c.db.Exec(
		`UPDATE knowledge_entries SET usage_count = usage_count + 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment entry usage: %w", err)
	}
	return nil
}

func (c *Client) SaveEnvelope(env *models.ResponseEnvelope) error {
	stepsJSON, _ := json.Marshal(env.Steps)
	consultedJSON, _ := json.Marshal(env.Consulted)

	query := `
		INSERT INTO response_envelopes (id, query_text, route, solution, steps,
			confidence, latency_ms, entry_id, consulted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		env.ID,
		env.Query,
		string(env.Route),
		env.Solution,
		string(stepsJSON),
		env.Confidence,
		env.LatencyMS,
		env.EntryID,
		string(consultedJSON),
		env.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save envelope: %w", err)
	}

	for _, cit := range env.Citations {
		_, err := c.db.Exec(
			`INSERT INTO envelope_citations (envelope_id, citation_type, locator) VALUES (?, ?, ?)`,
			env.ID, cit.Type, cit.Locator,
		)
		if err != nil {
			return fmt.Errorf("failed to save citation: %w", err)
		}
	}

	logger.Debug("Envelope persisted",
		zap.String("response_id", env.ID),
		zap.String("route", string(env.Route)),
	)
	return nil
}

func (c *Client) GetEnvelope(id string) (*models.ResponseEnvelope, error) {
	query := `
		SELECT id, query_text, route, solution, steps, confidence, latency_ms,
			entry_id, consulted, created_at
		FROM response_envelopes WHERE id = ?
	`

	var env models.ResponseEnvelope
	var route, stepsJSON, consultedJSON string
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&env.ID, &env.Query, &route, &env.Solution,
		&stepsJSON, &env.Confidence, &env.LatencyMS, &env.EntryID, &consultedJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}

	env.Route = models.Route(route)
	json.Unmarshal([]byte(stepsJSON), &env.Steps)
	json.Unmarshal([]byte(consultedJSON), &env.Consulted)
	env.CreatedAt = time.Unix(createdAt, 0)

	rows, err := c.db.Query(
		`SELECT citation_type, locator FROM envelope_citations WHERE envelope_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get citations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cit models.Citation
		if err := rows.Scan(&cit.Type, &cit.Locator); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		env.Citations = append(env.Citations, cit)
	}

	return &env, rows.Err()
}

// InsertFeedback stores a feedback record keyed by response id. It reports
// false when a record for that response already exists, which keeps
// re-submissions from double-counting.
func (c *Client) InsertFeedback(f *models.Feedback) (bool, error) {
	query := `
		INSERT OR IGNORE INTO feedback (response_id, rating, helpful, correct, clear,
			complete, comments, suggested_improvement, alternative_solution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.Exec(
		query,
		f.ResponseID,
		f.Rating,
		boolToInt(f.Helpful),
		boolToInt(f.Correct),
		boolToInt(f.Clear),
		boolToInt(f.Complete),
		f.Comments,
		f.SuggestedImprovement,
		f.AlternativeSolution,
		f.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert feedback: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

func (c *Client) SaveFeedbackStats(stats *models.FeedbackStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	query := `
		INSERT INTO feedback_stats (id, stats, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET stats = excluded.stats, updated_at = excluded.updated_at
	`
	_, err = c.db.Exec(query, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save feedback stats: %w", err)
	}
	return nil
}

func (c *Client) LoadFeedbackStats() (*models.FeedbackStats, error) {
	var data string
	err := c.db.QueryRow(`SELECT stats FROM feedback_stats WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback stats: %w", err)
	}

	var stats models.FeedbackStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feedback stats: %w", err)
	}
	return &stats, nil
}

func (c *Client) SaveThresholds(high, low float64) error {
	query := `
		INSERT INTO routing_thresholds (id, high, low, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET high = excluded.high, low = excluded.low, updated_at = excluded.updated_at
	`
	_, err := c.db.Exec(query, high, low, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save thresholds: %w", err)
	}
	return nil
}

func (c *Client) LoadThresholds() (float64, float64, error) {
	var high, low float64
	err := c.db.QueryRow(`SELECT high, low FROM routing_thresholds WHERE id = 1`).Scan(&high, &low)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, models.ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load thresholds: %w", err)
	}
	return high, low, nil
}

func (c *Client) DeleteEnvelopesBefore(cutoff time.Time) (int64, error) {
	res, err := c.db.Exec(
		`DELETE FROM response_envelopes WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired envelopes: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
