// Package llm provides clients for the external LLM-backed collaborators:
// the Memory Writer consumed by the ingest pipeline, the two-stage
// process_episode classifier (Log Cleaner, Memory Extractor), and the
// embedding provider. The core only depends on the interfaces here; the
// concrete implementation speaks to any OpenAI-compatible endpoint with
// circuit-breaker and rate-limit protection.
package llm

import (
	"context"

	"github.com/sqrlhq/sqrl/internal/chunking"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// ChunkRequest carries one chunk of events to the Memory Writer.
type ChunkRequest struct {
	// Events are the chunk's events tagged with their original indices.
	Events []chunking.WriterEvent

	ProjectID string
	OwnerType types.OwnerType
	OwnerID   string

	// ChunkIndex is the 0-based chunk number within the stream.
	ChunkIndex int

	// CarryState is the opaque continuation token from the previous chunk's
	// output. Empty for the first chunk. The core passes it through verbatim.
	CarryState string

	// RecentMemories is caller-supplied existing-memory context, serialized
	// into the prompt as-is.
	RecentMemories []map[string]any
}

// MemoryWriter turns event chunks into proposed memory operations. One call
// per chunk; calls for one stream must happen in chunk order because of the
// carry-state dependency.
type MemoryWriter interface {
	ProcessChunk(ctx context.Context, req ChunkRequest) (*types.MemoryWriterOutput, error)
}

// LogCleaner is stage 1 of the process_episode classifier: it decides whether
// an episode contains an actionable user correction and condenses it.
type LogCleaner interface {
	Clean(ctx context.Context, projectID string, events []types.EpisodeEvent) (*types.CleanerOutput, error)
}

// MemoryExtractor is stage 2: it classifies a correction into user-style and
// project-memory operations against the existing memory context.
type MemoryExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*types.ExtractorOutput, error)
}

// ExtractRequest carries the Memory Extractor's input.
type ExtractRequest struct {
	ProjectID               string
	ProjectRoot             string
	CorrectionContext       string
	ExistingUserStyles      []types.ExistingUserStyle
	ExistingProjectMemories []types.ExistingProjectMemory
}

// EmbeddingGenerator produces vector embeddings for memory text.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
