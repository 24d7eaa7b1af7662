// Package storage defines the persistence contract for the sqrl memory
// system. Two backends implement it: sqlite (the local single-writer default)
// and postgres (shared team/org stores). All invariant checking lives behind
// this interface; violations are rejected before any row is written.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sqrlhq/sqrl/pkg/types"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrInvalidInput indicates a validation failure. Wrapped errors carry
	// the specific violation.
	ErrInvalidInput = errors.New("storage: invalid input")

	// ErrStatusRegression indicates an attempt to move a memory's status
	// backward in its lifecycle.
	ErrStatusRegression = errors.New("storage: memory status cannot move backward")
)

// Store is the full persistence contract. Every mutation is transactional:
// a call either commits completely or leaves the store untouched.
type Store interface {
	// InsertEpisode persists an episode record.
	InsertEpisode(ctx context.Context, ep *types.EpisodeRecord) error

	// GetEpisode fetches an episode record by ID.
	GetEpisode(ctx context.Context, id string) (*types.EpisodeRecord, error)

	// MarkEpisodeProcessed flips the processed flag on an episode.
	MarkEpisodeProcessed(ctx context.Context, id string) error

	// InsertMemory inserts a memory together with its evidence rows and a
	// zeroed metrics row in one transaction. Evidence may be empty only for
	// testing/bootstrap inserts; pipeline commits always carry at least one
	// row.
	InsertMemory(ctx context.Context, m *types.Memory, evidence []types.Evidence) error

	// UpdateMemory updates a mutable memory row and appends evidence in one
	// transaction. Status monotonicity is enforced against the stored row;
	// a backward transition fails with ErrStatusRegression.
	UpdateMemory(ctx context.Context, m *types.Memory, evidence []types.Evidence) error

	// DeprecateMemory terminally sets a memory's status to deprecated and
	// appends evidence in one transaction. Valid from any current status.
	DeprecateMemory(ctx context.Context, id string, evidence []types.Evidence) error

	// GetMemory fetches a memory by ID.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// ActiveMemories returns memories with status active whose expiry, if
	// set, is after now. An empty projectID matches all projects.
	ActiveMemories(ctx context.Context, projectID string, now time.Time) ([]*types.Memory, error)

	// RecentMemories returns the most recently updated memories regardless
	// of status, newest first, for writer-prompt context. An empty projectID
	// matches all projects; limit <= 0 means no limit.
	RecentMemories(ctx context.Context, projectID string, limit int) ([]*types.Memory, error)

	// EvidenceForMemory returns a memory's evidence rows, oldest first.
	EvidenceForMemory(ctx context.Context, memoryID string) ([]types.Evidence, error)

	// GetMetrics fetches the metrics row for a memory.
	GetMetrics(ctx context.Context, memoryID string) (*types.MemoryMetrics, error)

	// UpdateMetrics overwrites the metrics row for a memory.
	UpdateMetrics(ctx context.Context, m *types.MemoryMetrics) error

	// Close releases the underlying database handle.
	Close() error
}
