// Package postgres implements storage.Store over PostgreSQL for shared
// team/org-scoped memory stores. Embeddings are kept in a bytea column for
// backend parity with SQLite; when the pgvector extension is present they are
// mirrored into a vector column so similarity queries can run server-side.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/sqrlhq/sqrl/internal/embedding"
	"github.com/sqrlhq/sqrl/internal/storage"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// SchemaVersion gates the DDL script, matching the sqlite backend.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS memories (
    id          TEXT PRIMARY KEY,
    project_id  TEXT,
    scope       TEXT NOT NULL CHECK (scope IN ('global', 'project', 'repo_path')),
    owner_type  TEXT NOT NULL CHECK (owner_type IN ('user', 'team', 'org')),
    owner_id    TEXT NOT NULL,
    kind        TEXT NOT NULL CHECK (kind IN ('preference', 'invariant', 'pattern', 'guard', 'note')),
    tier        TEXT NOT NULL CHECK (tier IN ('short_term', 'long_term', 'emergency')),
    polarity    INTEGER DEFAULT 1 CHECK (polarity IN (1, -1)),
    key         TEXT,
    text        TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'provisional' CHECK (status IN ('provisional', 'active', 'deprecated')),
    confidence  DOUBLE PRECISION CHECK (confidence >= 0.0 AND confidence <= 1.0),
    expires_at  TIMESTAMPTZ,
    embedding   BYTEA,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_type, owner_id);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);

CREATE TABLE IF NOT EXISTS episodes (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    start_ts    TIMESTAMPTZ NOT NULL,
    end_ts      TIMESTAMPTZ NOT NULL,
    events_json TEXT NOT NULL,
    processed   BOOLEAN DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_project ON episodes(project_id);

CREATE TABLE IF NOT EXISTS evidence (
    id           TEXT PRIMARY KEY,
    memory_id    TEXT NOT NULL REFERENCES memories(id),
    episode_id   TEXT NOT NULL REFERENCES episodes(id),
    source       TEXT CHECK (source IN ('failure_then_success', 'user_correction', 'explicit_statement', 'pattern_observed', 'guard_triggered')),
    frustration  TEXT CHECK (frustration IN ('none', 'mild', 'moderate', 'severe')),
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_memory ON evidence(memory_id);

CREATE TABLE IF NOT EXISTS memory_metrics (
    memory_id              TEXT PRIMARY KEY REFERENCES memories(id),
    use_count              INTEGER DEFAULT 0,
    opportunities          INTEGER DEFAULT 0,
    suspected_regret_hits  INTEGER DEFAULT 0,
    estimated_regret_saved DOUBLE PRECISION DEFAULT 0.0,
    last_used_at           TIMESTAMPTZ,
    last_evaluated_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// vectorMigration adds the pgvector mirror column. Applied only when the
// extension is available.
const vectorMigration = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding_vec vector(1536);
`

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool
}

// Open connects to the database at dsn and initialises the schema. The
// pgvector extension is enabled opportunistically; without it the store still
// works, just without server-side similarity queries.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	s := &Store{db: db}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (vector mirror disabled): %v", err)
	} else {
		s.pgvectorAvailable = true
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == nil && version >= SchemaVersion {
		return nil
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	if s.pgvectorAvailable {
		if _, err := s.db.Exec(vectorMigration); err != nil {
			log.Printf("postgres: failed to add vector column (vector mirror disabled): %v", err)
			s.pgvectorAvailable = false
		}
	}
	if _, err := s.db.Exec(`
		INSERT INTO schema_version (version) VALUES ($1)
		ON CONFLICT (version) DO NOTHING`, SchemaVersion,
	); err != nil {
		return fmt.Errorf("postgres: failed to record schema version: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEpisode persists an episode record.
func (s *Store) InsertEpisode(ctx context.Context, ep *types.EpisodeRecord) error {
	if ep.ID == "" {
		return fmt.Errorf("%w: episode ID is required", storage.ErrInvalidInput)
	}
	if ep.ProjectID == "" {
		return fmt.Errorf("%w: episode project_id is required", storage.ErrInvalidInput)
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, project_id, start_ts, end_ts, events_json, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ep.ID, ep.ProjectID, ep.StartTS, ep.EndTS, ep.EventsJSON, ep.Processed, ep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert episode: %w", err)
	}
	return nil
}

// GetEpisode fetches an episode record by ID.
func (s *Store) GetEpisode(ctx context.Context, id string) (*types.EpisodeRecord, error) {
	var ep types.EpisodeRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, start_ts, end_ts, events_json, processed, created_at
		FROM episodes WHERE id = $1`, id,
	).Scan(&ep.ID, &ep.ProjectID, &ep.StartTS, &ep.EndTS, &ep.EventsJSON, &ep.Processed, &ep.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get episode: %w", err)
	}
	return &ep, nil
}

// MarkEpisodeProcessed flips the processed flag.
func (s *Store) MarkEpisodeProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE episodes SET processed = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark episode processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertMemory inserts a memory with evidence rows and a zeroed metrics row
// in one transaction.
func (s *Store) InsertMemory(ctx context.Context, m *types.Memory, evidence []types.Evidence) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (
				id, project_id, scope, owner_type, owner_id, kind, tier, polarity,
				key, text, status, confidence, expires_at, embedding, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			m.ID, nullable(m.ProjectID), m.Scope, m.OwnerType, m.OwnerID, m.Kind, m.Tier,
			m.Polarity, nullable(m.Key), m.Text, m.Status, m.Confidence, m.ExpiresAt,
			m.Embedding, m.CreatedAt, m.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert memory: %w", err)
		}

		if err := s.mirrorVectorTx(ctx, tx, m); err != nil {
			return err
		}
		if err := insertEvidenceTx(ctx, tx, m.ID, evidence); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memory_metrics (memory_id) VALUES ($1)", m.ID,
		); err != nil {
			return fmt.Errorf("postgres: failed to insert metrics: %w", err)
		}
		return nil
	})
}

// UpdateMemory updates a memory row and appends evidence atomically, with the
// same status-monotonicity gate as the sqlite backend.
func (s *Store) UpdateMemory(ctx context.Context, m *types.Memory, evidence []types.Evidence) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current types.MemoryStatus
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM memories WHERE id = $1 FOR UPDATE", m.ID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: failed to read current status: %w", err)
		}
		if !types.IsValidStatusTransition(current, m.Status) {
			return fmt.Errorf("%w: %s -> %s", storage.ErrStatusRegression, current, m.Status)
		}

		m.UpdatedAt = time.Now()
		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET
				project_id = $1, scope = $2, owner_type = $3, owner_id = $4, kind = $5,
				tier = $6, polarity = $7, key = $8, text = $9, status = $10,
				confidence = $11, expires_at = $12, embedding = $13, updated_at = $14
			WHERE id = $15`,
			nullable(m.ProjectID), m.Scope, m.OwnerType, m.OwnerID, m.Kind, m.Tier,
			m.Polarity, nullable(m.Key), m.Text, m.Status, m.Confidence, m.ExpiresAt,
			m.Embedding, m.UpdatedAt, m.ID,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to update memory: %w", err)
		}

		if err := s.mirrorVectorTx(ctx, tx, m); err != nil {
			return err
		}
		return insertEvidenceTx(ctx, tx, m.ID, evidence)
	})
}

// DeprecateMemory terminally deprecates a memory and appends evidence.
func (s *Store) DeprecateMemory(ctx context.Context, id string, evidence []types.Evidence) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE memories SET status = $1, updated_at = $2 WHERE id = $3",
			types.StatusDeprecated, time.Now(), id,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to deprecate memory: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return insertEvidenceTx(ctx, tx, id, evidence)
	})
}

// mirrorVectorTx keeps the pgvector column in sync with the bytea embedding.
func (s *Store) mirrorVectorTx(ctx context.Context, tx *sql.Tx, m *types.Memory) error {
	if !s.pgvectorAvailable || len(m.Embedding) == 0 {
		return nil
	}
	vec, err := embedding.Decode(m.Embedding)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE memories SET embedding_vec = $1 WHERE id = $2",
		pgvector.NewVector(vec), m.ID,
	); err != nil {
		return fmt.Errorf("postgres: failed to mirror embedding vector: %w", err)
	}
	return nil
}

const memorySelect = `
	SELECT id, project_id, scope, owner_type, owner_id, kind, tier, polarity,
	       key, text, status, confidence, expires_at, embedding, created_at, updated_at
	FROM memories`

// GetMemory fetches a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	m, err := scanMemory(s.db.QueryRowContext(ctx, memorySelect+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return m, err
}

// ActiveMemories returns active, unexpired memories.
func (s *Store) ActiveMemories(ctx context.Context, projectID string, now time.Time) ([]*types.Memory, error) {
	query := memorySelect + " WHERE status = $1 AND (expires_at IS NULL OR expires_at > $2)"
	args := []any{types.StatusActive, now}
	if projectID != "" {
		query += " AND project_id = $3"
		args = append(args, projectID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query active memories: %w", err)
	}
	defer rows.Close()

	var memories []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// EvidenceForMemory returns a memory's evidence rows, oldest first.
func (s *Store) EvidenceForMemory(ctx context.Context, memoryID string) ([]types.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, episode_id, source, frustration, created_at
		FROM evidence WHERE memory_id = $1 ORDER BY created_at`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query evidence: %w", err)
	}
	defer rows.Close()

	var evidence []types.Evidence
	for rows.Next() {
		var ev types.Evidence
		var source, frustration sql.NullString
		if err := rows.Scan(&ev.ID, &ev.MemoryID, &ev.EpisodeID, &source,
			&frustration, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan evidence: %w", err)
		}
		ev.Source = types.EvidenceSource(source.String)
		ev.Frustration = types.Frustration(frustration.String)
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}

// RecentMemories returns the most recently updated memories regardless of
// status, newest first.
func (s *Store) RecentMemories(ctx context.Context, projectID string, limit int) ([]*types.Memory, error) {
	query := memorySelect + " WHERE 1=1"
	var args []any
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query recent memories: %w", err)
	}
	defer rows.Close()

	var memories []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// GetMetrics fetches the metrics row for a memory.
func (s *Store) GetMetrics(ctx context.Context, memoryID string) (*types.MemoryMetrics, error) {
	var m types.MemoryMetrics
	var lastUsed, lastEval sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, use_count, opportunities, suspected_regret_hits,
		       estimated_regret_saved, last_used_at, last_evaluated_at
		FROM memory_metrics WHERE memory_id = $1`, memoryID,
	).Scan(&m.MemoryID, &m.UseCount, &m.Opportunities, &m.SuspectedRegretHits,
		&m.EstimatedRegretSaved, &lastUsed, &lastEval)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get metrics: %w", err)
	}
	if lastUsed.Valid {
		m.LastUsedAt = &lastUsed.Time
	}
	if lastEval.Valid {
		m.LastEvaluatedAt = &lastEval.Time
	}
	return &m, nil
}

// UpdateMetrics overwrites the metrics row for a memory.
func (s *Store) UpdateMetrics(ctx context.Context, m *types.MemoryMetrics) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_metrics SET
			use_count = $1, opportunities = $2, suspected_regret_hits = $3,
			estimated_regret_saved = $4, last_used_at = $5, last_evaluated_at = $6
		WHERE memory_id = $7`,
		m.UseCount, m.Opportunities, m.SuspectedRegretHits,
		m.EstimatedRegretSaved, m.LastUsedAt, m.LastEvaluatedAt, m.MemoryID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update metrics: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit transaction: %w", err)
	}
	return nil
}

func insertEvidenceTx(ctx context.Context, tx *sql.Tx, memoryID string, evidence []types.Evidence) error {
	for i := range evidence {
		ev := &evidence[i]
		if ev.ID == "" {
			return fmt.Errorf("%w: evidence ID is required", storage.ErrInvalidInput)
		}
		if ev.EpisodeID == "" {
			return fmt.Errorf("%w: evidence episode_id is required", storage.ErrInvalidInput)
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evidence (id, memory_id, episode_id, source, frustration, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.ID, memoryID, ev.EpisodeID, nullable(string(ev.Source)),
			nullable(string(ev.Frustration)), ev.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: failed to insert evidence: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var projectID, key sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(&m.ID, &projectID, &m.Scope, &m.OwnerType, &m.OwnerID, &m.Kind,
		&m.Tier, &m.Polarity, &key, &m.Text, &m.Status, &m.Confidence, &expiresAt,
		&m.Embedding, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.ProjectID = projectID.String
	m.Key = key.String
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
