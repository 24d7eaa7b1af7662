// Package ingest orchestrates the memory pipeline: parse session logs into
// episodes, chunk the events, send each chunk to the Memory Writer in order,
// and commit the resulting operations to the store. Per-chunk failures are
// collected, never propagated; the pipeline only errors on misconfiguration.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/sqrlhq/sqrl/internal/chunking"
	"github.com/sqrlhq/sqrl/internal/llm"
	"github.com/sqrlhq/sqrl/internal/parser"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// Params identifies whose memory stream an ingest run feeds.
type Params struct {
	ProjectID string
	OwnerType types.OwnerType
	OwnerID   string

	// RecentMemories is optional existing-memory context forwarded to every
	// chunk request unchanged.
	RecentMemories []map[string]any
}

// Result aggregates one ingest run. Errors holds one "Chunk <i>: <message>"
// entry per failed chunk; ChunkOutputs preserves chunk order.
type Result struct {
	ChunksProcessed   int                         `json:"chunks_processed"`
	EpisodesDetected  int                         `json:"episodes_detected"`
	MemoriesExtracted int                         `json:"memories_extracted"`
	ChunkOutputs      []*types.MemoryWriterOutput `json:"chunk_outputs"`
	Errors            []string                    `json:"errors"`
}

func (r *Result) merge(other *Result) {
	r.ChunksProcessed += other.ChunksProcessed
	r.EpisodesDetected += other.EpisodesDetected
	r.MemoriesExtracted += other.MemoriesExtracted
	r.ChunkOutputs = append(r.ChunkOutputs, other.ChunkOutputs...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Pipeline wires a parser, the chunker, the Memory Writer, and an optional
// committer. With a nil committer the pipeline is analysis-only: it returns
// the writer's raw outputs without persisting anything.
type Pipeline struct {
	writer    llm.MemoryWriter
	parser    parser.Parser
	cfg       chunking.Config
	committer *Committer
}

// NewPipeline validates the chunk config and assembles a pipeline.
func NewPipeline(writer llm.MemoryWriter, p parser.Parser, cfg chunking.Config, committer *Committer) (*Pipeline, error) {
	if writer == nil {
		return nil, fmt.Errorf("ingest: memory writer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return &Pipeline{writer: writer, parser: p, cfg: cfg, committer: committer}, nil
}

// IngestEvents runs one event stream through the chunker and the Memory
// Writer. Chunks are processed in strict order: carry state from chunk N
// feeds chunk N+1, and a failed chunk keeps the last successful carry state.
// episodeID links committed evidence to a persisted episode; it may be empty
// when nothing is being committed.
func (p *Pipeline) IngestEvents(ctx context.Context, events []types.Event, params Params, episodeID string) *Result {
	result := &Result{}
	carryState := ""

	for chunk := range chunking.Chunk(events, p.cfg) {
		out, err := p.writer.ProcessChunk(ctx, llm.ChunkRequest{
			Events:         chunk.ToWriterEvents(),
			ProjectID:      params.ProjectID,
			OwnerType:      params.OwnerType,
			OwnerID:        params.OwnerID,
			ChunkIndex:     chunk.ChunkIndex,
			CarryState:     carryState,
			RecentMemories: params.RecentMemories,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Chunk %d: %v", chunk.ChunkIndex, err))
			continue
		}

		result.ChunksProcessed++
		result.EpisodesDetected += len(out.Episodes)
		result.MemoriesExtracted += len(out.Memories)
		result.ChunkOutputs = append(result.ChunkOutputs, out)
		carryState = out.CarryState

		if p.committer != nil && episodeID != "" {
			result.Errors = append(result.Errors,
				p.committer.CommitOutput(ctx, params, episodeID, chunk.ChunkIndex, out)...)
		}
	}
	return result
}

// IngestSession parses one session file and ingests each of its episodes.
// An unparseable or empty session yields an empty result, not an error;
// errors here mean pipeline misconfiguration, not bad input.
func (p *Pipeline) IngestSession(ctx context.Context, sessionPath string, params Params) (*Result, error) {
	if p.parser == nil {
		return nil, fmt.Errorf("ingest: no parser configured")
	}

	episodes, err := p.parser.ParseSession(sessionPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to parse session %s: %w", sessionPath, err)
	}

	result := &Result{}
	for i := range episodes {
		ep := &episodes[i]
		if params.ProjectID == "" {
			params.ProjectID = ep.ProjectID
		}

		episodeID := ""
		if p.committer != nil {
			episodeID, err = p.committer.PersistEpisode(ctx, params.ProjectID, ep)
			if err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("episode %s: %v", ep.SessionID, err))
				continue
			}
		}

		epResult := p.IngestEvents(ctx, ep.Events, params, episodeID)
		result.merge(epResult)

		if p.committer != nil && len(epResult.Errors) == 0 {
			if err := p.committer.store.MarkEpisodeProcessed(ctx, episodeID); err != nil {
				log.Printf("ingest: failed to mark episode %s processed: %v", episodeID, err)
			}
		}
	}
	return result, nil
}

// IngestProject enumerates a project's sessions oldest-first and ingests each
// in turn. Per-session results are summed; a bad session contributes errors,
// not a failure.
func (p *Pipeline) IngestProject(ctx context.Context, projectRoot string, params Params) (*Result, error) {
	if p.parser == nil {
		return nil, fmt.Errorf("ingest: no parser configured")
	}

	sessions, err := p.parser.GetSessions(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to list sessions for %s: %w", projectRoot, err)
	}

	result := &Result{}
	for _, session := range sessions {
		sessionResult, err := p.IngestSession(ctx, session, params)
		if err != nil {
			return nil, err
		}
		result.merge(sessionResult)
	}
	return result, nil
}

// marshalEvents serializes an episode's events for the episodes table.
func marshalEvents(ep *types.Episode) (string, error) {
	data, err := json.Marshal(ep.ToEventsJSON())
	if err != nil {
		return "", fmt.Errorf("ingest: failed to serialize events: %w", err)
	}
	return string(data), nil
}

// newID returns a fresh memory/evidence/episode identifier.
func newID() string {
	return uuid.NewString()
}
