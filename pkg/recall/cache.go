// Package recall keeps short notes about a user's job search across turns
// and retrieves the ones relevant to the current input. With an embedding
// provider notes are ranked by vector similarity; without one the most
// recent notes win.
package recall

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/workseek/workseek/internal/observability"
	"github.com/workseek/workseek/internal/tracing"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Note is one remembered fact about a thread's job search.
type Note struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Cache stores and retrieves notes.
type Cache struct {
	db          *sql.DB
	embedder    EmbeddingProvider
	searchLimit int
	logger      zerolog.Logger
}

// Config holds recall cache configuration. Embedder is optional.
type Config struct {
	DBPath      string
	Embedder    EmbeddingProvider
	SearchLimit int
	Logger      zerolog.Logger
}

// NewCache opens (creating if needed) the recall database.
func NewCache(cfg Config) (*Cache, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	c := &Cache{
		db:          db,
		embedder:    cfg.Embedder,
		searchLimit: cfg.SearchLimit,
		logger:      cfg.Logger,
	}

	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	c.logger.Info().
		Str("path", cfg.DBPath).
		Bool("vector_search", cfg.Embedder != nil).
		Msg("Recall cache opened")
	return c, nil
}

func (c *Cache) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id         TEXT    PRIMARY KEY,
			thread_id  TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_thread ON notes(thread_id, created_at);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return err
	}

	if c.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS note_vectors USING vec0(
				note_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, c.embedder.Dimension())
		if _, err := c.db.Exec(vectorSchema); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Remember stores one note for the thread. Embedding failures degrade the
// note to recency-only retrieval instead of dropping it.
func (c *Cache) Remember(ctx context.Context, threadID, content string) (string, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.recall",
		"recall.remember",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate note id: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO notes (id, thread_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, id, threadID, content, time.Now().UnixNano()); err != nil {
		return "", fmt.Errorf("failed to store note: %w", err)
	}

	if c.embedder != nil {
		if err := c.storeVector(ctx, id, content); err != nil {
			logger.Warn().Str("note_id", id).Err(err).Msg("Failed to embed note")
		}
	}

	if count, err := c.Count(ctx); err == nil {
		observability.SetRecallNotes(count)
	}

	logger.Debug().Str("note_id", id).Msg("Note stored")
	return id, nil
}

func (c *Cache) storeVector(ctx context.Context, noteID, content string) error {
	embedding, err := c.embedder.GenerateEmbedding(ctx, content)
	if err != nil {
		return err
	}

	serialized, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO note_vectors (note_id, embedding)
		VALUES (?, ?)
	`, noteID, serialized); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// Recall returns the thread's notes most relevant to the query.
func (c *Cache) Recall(ctx context.Context, threadID, query string) ([]string, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.recall",
		"recall.search",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordRecallSearch(time.Since(start))
	}()

	if c.embedder != nil {
		notes, err := c.vectorSearch(ctx, threadID, query)
		if err == nil {
			return notes, nil
		}
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Warn().Err(err).Msg("Vector search failed, falling back to recency")
	}

	return c.recentNotes(ctx, threadID)
}

func (c *Cache) vectorSearch(ctx context.Context, threadID, query string) ([]string, error) {
	embedding, err := c.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT n.content, vec_distance_cosine(v.embedding, ?) AS distance
		FROM note_vectors v
		JOIN notes n ON n.id = v.note_id
		WHERE n.thread_id = ?
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), threadID, c.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var content string
		var distance float64
		if err := rows.Scan(&content, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		notes = append(notes, content)
	}
	return notes, rows.Err()
}

func (c *Cache) recentNotes(ctx context.Context, threadID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT content
		FROM notes
		WHERE thread_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, threadID, c.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, content)
	}
	return notes, rows.Err()
}

// List returns all of a thread's notes, newest first.
func (c *Cache) List(ctx context.Context, threadID string) ([]Note, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, thread_id, content, created_at
		FROM notes
		WHERE thread_id = ?
		ORDER BY created_at DESC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.ThreadID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Invalidate removes all notes for a thread.
func (c *Cache) Invalidate(ctx context.Context, threadID string) error {
	if c.embedder != nil {
		if _, err := c.db.ExecContext(ctx, `
			DELETE FROM note_vectors
			WHERE note_id IN (SELECT id FROM notes WHERE thread_id = ?)
		`, threadID); err != nil {
			return fmt.Errorf("failed to remove embeddings: %w", err)
		}
	}

	if _, err := c.db.ExecContext(ctx, `
		DELETE FROM notes WHERE thread_id = ?
	`, threadID); err != nil {
		return fmt.Errorf("failed to remove notes: %w", err)
	}

	if count, err := c.Count(ctx); err == nil {
		observability.SetRecallNotes(count)
	}

	c.logger.Info().Str("thread_id", threadID).Msg("Recall notes invalidated")
	return nil
}

// Count returns the total number of stored notes.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
