package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/workseek/workseek/internal/observability"
	"github.com/workseek/workseek/internal/tracing"
	"github.com/workseek/workseek/pkg/state"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	codec  *state.Codec
	logger zerolog.Logger
}

// Options configures a SQLiteStore.
type Options struct {
	Path   string
	Logger zerolog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id         TEXT    NOT NULL,
		created_at        INTEGER NOT NULL,
		parent_created_at INTEGER,
		state             BLOB    NOT NULL,
		PRIMARY KEY (thread_id, created_at)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, created_at);
`

// NewSQLiteStore opens (creating if needed) the checkpoint database.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if opts.Path == "" {
		return nil, errors.New("store path is required")
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorage, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", ErrStorage, err)
	}

	s := &SQLiteStore{
		db:     db,
		codec:  state.NewCodec(),
		logger: opts.Logger,
	}

	s.logger.Info().Str("path", opts.Path).Msg("Checkpoint store opened")
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetLatest returns the most recent checkpoint for the thread.
func (s *SQLiteStore) GetLatest(ctx context.Context, threadID string) (*state.Checkpoint, bool, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.checkpoint",
		"checkpoint.get_latest",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordCheckpointLoad(time.Since(start))
	}()

	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, created_at, parent_created_at, state
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, threadID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("%w: failed to read latest checkpoint: %v", ErrStorage, err)
	}

	// The latest checkpoint must decode; the runtime cannot continue on
	// untrustworthy state.
	if _, err := s.codec.Decode(cp.State); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	return cp, true, nil
}

// ListHistory returns all checkpoints for a thread, oldest first. Corrupt
// entries are skipped with a warning rather than aborting the read.
func (s *SQLiteStore) ListHistory(ctx context.Context, threadID string) ([]*state.Checkpoint, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.checkpoint",
		"checkpoint.list_history",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("thread_id", threadID).Logger()

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, created_at, parent_created_at, state
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: failed to read history: %v", ErrStorage, err)
	}
	defer rows.Close()

	var history []*state.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: failed to scan checkpoint: %v", ErrStorage, err)
		}

		if _, err := s.codec.Decode(cp.State); err != nil {
			logger.Warn().
				Int64("created_at", cp.CreatedAt).
				Err(err).
				Msg("Skipping corrupt checkpoint in history")
			observability.RecordCorruptSkipped()
			continue
		}

		history = append(history, cp)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: failed to iterate history: %v", ErrStorage, err)
	}

	return history, nil
}

// Put appends a checkpoint for the thread, linking it to the pre-write latest.
func (s *SQLiteStore) Put(ctx context.Context, threadID string, st *state.AgentState) (*state.Checkpoint, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.checkpoint",
		"checkpoint.put",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	start := time.Now()

	payload, err := s.codec.Encode(st)
	if err != nil {
		observability.RecordCheckpointSave(time.Since(start), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		observability.RecordCheckpointSave(time.Since(start), false)
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	cp, err := insertCheckpoint(ctx, tx, threadID, payload, nil)
	if err != nil {
		observability.RecordCheckpointSave(time.Since(start), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		observability.RecordCheckpointSave(time.Since(start), false)
		return nil, fmt.Errorf("%w: failed to commit checkpoint: %v", ErrStorage, err)
	}

	observability.RecordCheckpointSave(time.Since(start), true)
	return cp, nil
}

// PutBatch appends all states in one transaction, chaining parent timestamps
// within the batch. A failure anywhere leaves none of them persisted.
func (s *SQLiteStore) PutBatch(ctx context.Context, threadID string, states []*state.AgentState) error {
	if len(states) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"workseek.checkpoint",
		"checkpoint.put_batch",
		attribute.String("thread_id", threadID),
		attribute.Int("count", len(states)),
	)
	defer span.End()
	start := time.Now()

	// Encode everything up front so a bad item cannot leave a partial batch.
	payloads := make([][]byte, len(states))
	for i, st := range states {
		payload, err := s.codec.Encode(st)
		if err != nil {
			observability.RecordCheckpointSave(time.Since(start), false)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to encode state %d: %w", i, err)
		}
		payloads[i] = payload
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		observability.RecordCheckpointSave(time.Since(start), false)
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	var prev *state.Checkpoint
	for _, payload := range payloads {
		var parent *int64
		if prev != nil {
			createdAt := prev.CreatedAt
			parent = &createdAt
		}
		cp, err := insertCheckpoint(ctx, tx, threadID, payload, parent)
		if err != nil {
			observability.RecordCheckpointSave(time.Since(start), false)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		prev = cp
	}

	if err := tx.Commit(); err != nil {
		observability.RecordCheckpointSave(time.Since(start), false)
		return fmt.Errorf("%w: failed to commit batch: %v", ErrStorage, err)
	}

	observability.RecordCheckpointSave(time.Since(start), true)
	return nil
}

// PruneOlderThan deletes checkpoints created before cutoff, always preserving
// each thread's latest so every thread stays resumable. Returns the number of
// rows removed.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE created_at < ?
		  AND EXISTS (
			SELECT 1 FROM checkpoints newer
			WHERE newer.thread_id = checkpoints.thread_id
			  AND newer.created_at > checkpoints.created_at
		  )
	`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to prune checkpoints: %v", ErrStorage, err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count pruned rows: %v", ErrStorage, err)
	}
	return removed, nil
}

// insertCheckpoint writes one row inside tx. When parent is nil the pre-write
// latest inside the same transaction supplies the parent timestamp. Timestamps
// collide only under clock skew; a same-instant write is bumped by one
// nanosecond to keep the per-thread order strict.
func insertCheckpoint(ctx context.Context, tx *sql.Tx, threadID string, payload []byte, parent *int64) (*state.Checkpoint, error) {
	if parent == nil {
		var latest sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT MAX(created_at) FROM checkpoints WHERE thread_id = ?
		`, threadID).Scan(&latest)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read latest timestamp: %v", ErrStorage, err)
		}
		if latest.Valid {
			value := latest.Int64
			parent = &value
		}
	}

	createdAt := time.Now().UnixNano()
	if parent != nil && createdAt <= *parent {
		createdAt = *parent + 1
	}

	var parentValue interface{}
	if parent != nil {
		parentValue = *parent
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, created_at, parent_created_at, state)
		VALUES (?, ?, ?, ?)
	`, threadID, createdAt, parentValue, payload); err != nil {
		return nil, fmt.Errorf("%w: failed to insert checkpoint: %v", ErrStorage, err)
	}

	return &state.Checkpoint{
		ThreadID:        threadID,
		CreatedAt:       createdAt,
		ParentCreatedAt: parent,
		State:           payload,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (*state.Checkpoint, error) {
	var (
		cp     state.Checkpoint
		parent sql.NullInt64
	)
	if err := row.Scan(&cp.ThreadID, &cp.CreatedAt, &parent, &cp.State); err != nil {
		return nil, err
	}
	if parent.Valid {
		value := parent.Int64
		cp.ParentCreatedAt = &value
	}
	return &cp, nil
}
