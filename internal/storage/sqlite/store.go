// Package sqlite implements storage.Store over a local SQLite database file.
// The store is single-writer: one open connection serialises writes, WAL mode
// keeps readers unblocked, and foreign keys are always enforced.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sqrlhq/sqrl/internal/storage"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initialises the
// schema. The parent directory is created if absent. Pass ":memory:" for an
// in-memory store in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates or migrates the schema. Re-running on a current
// database is a no-op: the stored version gates the DDL script.
func (s *Store) initSchema() error {
	var version int
	err := s.db.QueryRow(
		"SELECT version FROM schema_version LIMIT 1",
	).Scan(&version)
	if err == nil && version >= SchemaVersion {
		return nil
	}
	// Any error here means the version table doesn't exist yet; the DDL
	// below creates it.

	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO schema_version (version) VALUES (?)", SchemaVersion,
	); err != nil {
		return fmt.Errorf("sqlite: failed to record schema version: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeFormat is how timestamps are stored (TEXT columns). The fractional
// seconds are fixed-width so lexicographic comparison in SQL matches
// chronological order; RFC3339Nano trims trailing zeros and does not.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

// parseTime accepts any RFC3339 fractional-second width.
func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

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
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.ProjectID, formatTime(ep.StartTS), formatTime(ep.EndTS),
		ep.EventsJSON, boolToInt(ep.Processed), formatTime(ep.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert episode: %w", err)
	}
	return nil
}

// GetEpisode fetches an episode record by ID.
func (s *Store) GetEpisode(ctx context.Context, id string) (*types.EpisodeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, start_ts, end_ts, events_json, processed, created_at
		FROM episodes WHERE id = ?`, id)

	var ep types.EpisodeRecord
	var startTS, endTS, createdAt string
	var processed int
	err := row.Scan(&ep.ID, &ep.ProjectID, &startTS, &endTS, &ep.EventsJSON, &processed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get episode: %w", err)
	}

	if ep.StartTS, err = parseTime(startTS); err != nil {
		return nil, fmt.Errorf("sqlite: bad start_ts on episode %s: %w", id, err)
	}
	if ep.EndTS, err = parseTime(endTS); err != nil {
		return nil, fmt.Errorf("sqlite: bad end_ts on episode %s: %w", id, err)
	}
	if ep.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: bad created_at on episode %s: %w", id, err)
	}
	ep.Processed = processed != 0
	return &ep, nil
}

// MarkEpisodeProcessed flips the processed flag.
func (s *Store) MarkEpisodeProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE episodes SET processed = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to mark episode processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertMemory inserts a memory with its evidence rows and a zeroed metrics
// row in one transaction.
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
		var expiresAt any
		if m.ExpiresAt != nil {
			expiresAt = formatTime(*m.ExpiresAt)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (
				id, project_id, scope, owner_type, owner_id, kind, tier, polarity,
				key, text, status, confidence, expires_at, embedding, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, nullable(m.ProjectID), m.Scope, m.OwnerType, m.OwnerID, m.Kind, m.Tier,
			m.Polarity, nullable(m.Key), m.Text, m.Status, m.Confidence, expiresAt,
			m.Embedding, formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("sqlite: failed to insert memory: %w", err)
		}

		if err := insertEvidenceTx(ctx, tx, m.ID, evidence); err != nil {
			return err
		}

		// Metrics start zeroed; only the retrieval subsystem mutates them.
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memory_metrics (memory_id) VALUES (?)", m.ID,
		); err != nil {
			return fmt.Errorf("sqlite: failed to insert metrics: %w", err)
		}
		return nil
	})
}

// UpdateMemory updates a memory row and appends evidence atomically. The
// stored status gates the transition: backward moves fail before any write.
func (s *Store) UpdateMemory(ctx context.Context, m *types.Memory, evidence []types.Evidence) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current types.MemoryStatus
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM memories WHERE id = ?", m.ID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: failed to read current status: %w", err)
		}
		if !types.IsValidStatusTransition(current, m.Status) {
			return fmt.Errorf("%w: %s -> %s", storage.ErrStatusRegression, current, m.Status)
		}

		m.UpdatedAt = time.Now()
		var expiresAt any
		if m.ExpiresAt != nil {
			expiresAt = formatTime(*m.ExpiresAt)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET
				project_id = ?, scope = ?, owner_type = ?, owner_id = ?, kind = ?,
				tier = ?, polarity = ?, key = ?, text = ?, status = ?, confidence = ?,
				expires_at = ?, embedding = ?, updated_at = ?
			WHERE id = ?`,
			nullable(m.ProjectID), m.Scope, m.OwnerType, m.OwnerID, m.Kind, m.Tier,
			m.Polarity, nullable(m.Key), m.Text, m.Status, m.Confidence, expiresAt,
			m.Embedding, formatTime(m.UpdatedAt), m.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: failed to update memory: %w", err)
		}

		return insertEvidenceTx(ctx, tx, m.ID, evidence)
	})
}

// DeprecateMemory terminally deprecates a memory and appends evidence.
func (s *Store) DeprecateMemory(ctx context.Context, id string, evidence []types.Evidence) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE memories SET status = ?, updated_at = ? WHERE id = ?",
			types.StatusDeprecated, formatTime(time.Now()), id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: failed to deprecate memory: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return insertEvidenceTx(ctx, tx, id, evidence)
	})
}

// GetMemory fetches a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelect+" WHERE id = ?", id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return m, err
}

// ActiveMemories returns active, unexpired memories.
func (s *Store) ActiveMemories(ctx context.Context, projectID string, now time.Time) ([]*types.Memory, error) {
	query := memorySelect + " WHERE status = ? AND (expires_at IS NULL OR expires_at > ?)"
	args := []any{types.StatusActive, formatTime(now)}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query active memories: %w", err)
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

// RecentMemories returns the most recently updated memories regardless of
// status, newest first.
func (s *Store) RecentMemories(ctx context.Context, projectID string, limit int) ([]*types.Memory, error) {
	query := memorySelect + " WHERE 1=1"
	var args []any
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query recent memories: %w", err)
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
		FROM evidence WHERE memory_id = ? ORDER BY created_at`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query evidence: %w", err)
	}
	defer rows.Close()

	var evidence []types.Evidence
	for rows.Next() {
		var ev types.Evidence
		var source, frustration sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.MemoryID, &ev.EpisodeID, &source,
			&frustration, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan evidence: %w", err)
		}
		ev.Source = types.EvidenceSource(source.String)
		ev.Frustration = types.Frustration(frustration.String)
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: bad created_at for evidence %s: %w", ev.ID, err)
		}
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}

// GetMetrics fetches the metrics row for a memory.
func (s *Store) GetMetrics(ctx context.Context, memoryID string) (*types.MemoryMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT memory_id, use_count, opportunities, suspected_regret_hits,
		       estimated_regret_saved, last_used_at, last_evaluated_at
		FROM memory_metrics WHERE memory_id = ?`, memoryID)

	var m types.MemoryMetrics
	var lastUsed, lastEval sql.NullString
	err := row.Scan(&m.MemoryID, &m.UseCount, &m.Opportunities, &m.SuspectedRegretHits,
		&m.EstimatedRegretSaved, &lastUsed, &lastEval)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get metrics: %w", err)
	}

	if m.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return nil, fmt.Errorf("sqlite: bad last_used_at for %s: %w", memoryID, err)
	}
	if m.LastEvaluatedAt, err = parseNullTime(lastEval); err != nil {
		return nil, fmt.Errorf("sqlite: bad last_evaluated_at for %s: %w", memoryID, err)
	}
	return &m, nil
}

// UpdateMetrics overwrites the metrics row for a memory.
func (s *Store) UpdateMetrics(ctx context.Context, m *types.MemoryMetrics) error {
	var lastUsed, lastEval any
	if m.LastUsedAt != nil {
		lastUsed = formatTime(*m.LastUsedAt)
	}
	if m.LastEvaluatedAt != nil {
		lastEval = formatTime(*m.LastEvaluatedAt)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_metrics SET
			use_count = ?, opportunities = ?, suspected_regret_hits = ?,
			estimated_regret_saved = ?, last_used_at = ?, last_evaluated_at = ?
		WHERE memory_id = ?`,
		m.UseCount, m.Opportunities, m.SuspectedRegretHits,
		m.EstimatedRegretSaved, lastUsed, lastEval, m.MemoryID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update metrics: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit transaction: %w", err)
	}
	return nil
}

// insertEvidenceTx validates and inserts evidence rows within tx.
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
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evidence (id, memory_id, episode_id, source, frustration, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, memoryID, ev.EpisodeID, nullable(string(ev.Source)),
			nullable(string(ev.Frustration)), formatTime(ev.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("sqlite: failed to insert evidence: %w", err)
		}
	}
	return nil
}

const memorySelect = `
	SELECT id, project_id, scope, owner_type, owner_id, kind, tier, polarity,
	       key, text, status, confidence, expires_at, embedding, created_at, updated_at
	FROM memories`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var projectID, key, expiresAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&m.ID, &projectID, &m.Scope, &m.OwnerType, &m.OwnerID, &m.Kind,
		&m.Tier, &m.Polarity, &key, &m.Text, &m.Status, &m.Confidence, &expiresAt,
		&m.Embedding, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	m.ProjectID = projectID.String
	m.Key = key.String
	if m.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("sqlite: bad expires_at on memory %s: %w", m.ID, err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: bad created_at on memory %s: %w", m.ID, err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("sqlite: bad updated_at on memory %s: %w", m.ID, err)
	}
	return &m, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
