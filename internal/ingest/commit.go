package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sqrlhq/sqrl/internal/embedding"
	"github.com/sqrlhq/sqrl/internal/storage"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// Committer applies Memory Writer outputs to the store. Each operation is
// committed through a single transactional store call, so an individual op
// either lands completely or not at all; sibling ops in the same output are
// independent of each other.
type Committer struct {
	store storage.Store

	// embedder is optional. When set, ADD and UPDATE text is embedded before
	// the write; embedding failures degrade to a memory without a vector.
	embedder *embedding.Service
}

// NewCommitter builds a committer over store. embedder may be nil.
func NewCommitter(store storage.Store, embedder *embedding.Service) *Committer {
	return &Committer{store: store, embedder: embedder}
}

// PersistEpisode writes the episode record evidence rows will reference and
// returns its ID.
func (c *Committer) PersistEpisode(ctx context.Context, projectID string, ep *types.Episode) (string, error) {
	eventsJSON, err := marshalEvents(ep)
	if err != nil {
		return "", err
	}
	record := &types.EpisodeRecord{
		ID:         newID(),
		ProjectID:  projectID,
		StartTS:    ep.StartTS,
		EndTS:      ep.EndTS,
		EventsJSON: eventsJSON,
	}
	if err := c.store.InsertEpisode(ctx, record); err != nil {
		return "", err
	}
	return record.ID, nil
}

// CommitOutput applies every operation in out, isolating failures per op.
// Returned strings follow the chunk-error format so callers can append them
// straight onto a Result's error list.
func (c *Committer) CommitOutput(ctx context.Context, params Params, episodeID string, chunkIndex int, out *types.MemoryWriterOutput) []string {
	var errs []string
	for i := range out.Memories {
		op := &out.Memories[i]
		if err := c.applyOp(ctx, params, episodeID, op); err != nil {
			errs = append(errs, fmt.Sprintf("Chunk %d: op %d (%s): %v", chunkIndex, i, op.Op, err))
		}
	}
	return errs
}

func (c *Committer) applyOp(ctx context.Context, params Params, episodeID string, op *types.MemoryOp) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	evidence := []types.Evidence{{
		ID:          newID(),
		EpisodeID:   episodeID,
		Source:      op.Evidence.Source,
		Frustration: op.Evidence.Frustration,
	}}

	switch op.Op {
	case types.OpAdd:
		return c.store.InsertMemory(ctx, c.memoryFromOp(ctx, params, op), evidence)

	case types.OpUpdate:
		current, err := c.store.GetMemory(ctx, op.TargetMemoryID)
		if err != nil {
			return err
		}
		c.applyUpdate(ctx, current, op)
		return c.store.UpdateMemory(ctx, current, evidence)

	case types.OpDeprecate:
		return c.store.DeprecateMemory(ctx, op.TargetMemoryID, evidence)
	}
	return fmt.Errorf("%w: unknown op %q", storage.ErrInvalidInput, op.Op)
}

func (c *Committer) memoryFromOp(ctx context.Context, params Params, op *types.MemoryOp) *types.Memory {
	m := &types.Memory{
		ID:         newID(),
		ProjectID:  params.ProjectID,
		Scope:      op.Scope,
		OwnerType:  op.OwnerType,
		OwnerID:    op.OwnerID,
		Kind:       op.Kind,
		Tier:       op.Tier,
		Polarity:   op.Polarity,
		Key:        op.Key,
		Text:       op.Text,
		Status:     types.StatusProvisional,
		Confidence: op.Confidence,
		Embedding:  c.embed(ctx, op.Text),
	}
	if m.OwnerType == "" {
		m.OwnerType = params.OwnerType
	}
	if m.OwnerID == "" {
		m.OwnerID = params.OwnerID
	}
	if m.Scope == types.ScopeGlobal {
		m.ProjectID = ""
	}
	if op.TTLDays > 0 {
		expires := time.Now().AddDate(0, 0, op.TTLDays)
		m.ExpiresAt = &expires
	}
	return m
}

// applyUpdate overwrites only the fields the op actually carries; status is
// left alone so lifecycle moves stay with the consolidation process.
func (c *Committer) applyUpdate(ctx context.Context, current *types.Memory, op *types.MemoryOp) {
	if op.Text != "" && op.Text != current.Text {
		current.Text = op.Text
		current.Embedding = c.embed(ctx, op.Text)
	}
	if op.Key != "" {
		current.Key = op.Key
	}
	current.Polarity = op.Polarity
	if op.Confidence > 0 {
		current.Confidence = op.Confidence
	}
	if op.TTLDays > 0 {
		expires := time.Now().AddDate(0, 0, op.TTLDays)
		current.ExpiresAt = &expires
	}
}

func (c *Committer) embed(ctx context.Context, text string) []byte {
	if c.embedder == nil || text == "" {
		return nil
	}
	blob, err := c.embedder.EmbedText(ctx, text)
	if err != nil {
		log.Printf("ingest: embedding failed, storing memory without vector: %v", err)
		return nil
	}
	return blob
}
