package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqrlhq/sqrl/internal/chunking"
	"github.com/sqrlhq/sqrl/internal/llm"
	"github.com/sqrlhq/sqrl/internal/storage/sqlite"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// stubWriter records every request and replies from a scripted list of
// outputs, failing the chunk indices named in failOn.
type stubWriter struct {
	requests []llm.ChunkRequest
	outputs  []*types.MemoryWriterOutput
	failOn   map[int]bool
}

func (w *stubWriter) ProcessChunk(_ context.Context, req llm.ChunkRequest) (*types.MemoryWriterOutput, error) {
	w.requests = append(w.requests, req)
	if w.failOn[req.ChunkIndex] {
		return nil, fmt.Errorf("upstream unavailable")
	}
	if req.ChunkIndex < len(w.outputs) {
		return w.outputs[req.ChunkIndex], nil
	}
	return &types.MemoryWriterOutput{}, nil
}

func makeEvents(n int) []types.Event {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := make([]types.Event, n)
	for i := range events {
		events[i] = types.Event{
			TS:      base.Add(time.Duration(i) * time.Second),
			Role:    types.RoleUser,
			Kind:    types.KindMessage,
			Summary: fmt.Sprintf("message %d", i),
		}
	}
	return events
}

func testParams() Params {
	return Params{ProjectID: "proj-1", OwnerType: types.OwnerUser, OwnerID: "user-1"}
}

func TestIngestEventsThreadsCarryState(t *testing.T) {
	writer := &stubWriter{
		outputs: []*types.MemoryWriterOutput{
			{CarryState: "state-after-0"},
			{CarryState: "state-after-1"},
			{CarryState: "state-after-2"},
		},
	}
	p, err := NewPipeline(writer, nil, chunking.Config{ChunkSize: 10, Overlap: 3}, nil)
	require.NoError(t, err)

	result := p.IngestEvents(context.Background(), makeEvents(25), testParams(), "")

	require.Len(t, writer.requests, 3)
	assert.Equal(t, "", writer.requests[0].CarryState)
	assert.Equal(t, "state-after-0", writer.requests[1].CarryState)
	assert.Equal(t, "state-after-1", writer.requests[2].CarryState)
	assert.Equal(t, 3, result.ChunksProcessed)
	assert.Empty(t, result.Errors)
}

func TestIngestEventsPartialFailure(t *testing.T) {
	// Chunk 2 (index 1) fails; chunk 3 must still run with chunk 1's state.
	writer := &stubWriter{
		outputs: []*types.MemoryWriterOutput{
			{CarryState: "state-after-0"},
			{CarryState: "never-seen"},
			{CarryState: "state-after-2"},
		},
		failOn: map[int]bool{1: true},
	}
	p, err := NewPipeline(writer, nil, chunking.Config{ChunkSize: 10, Overlap: 3}, nil)
	require.NoError(t, err)

	result := p.IngestEvents(context.Background(), makeEvents(25), testParams(), "")

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Chunk 1:")
	assert.Equal(t, 2, result.ChunksProcessed)
	assert.Len(t, result.ChunkOutputs, 2)

	require.Len(t, writer.requests, 3)
	assert.Equal(t, "state-after-0", writer.requests[2].CarryState)
}

func TestIngestEventsAggregatesCounts(t *testing.T) {
	writer := &stubWriter{
		outputs: []*types.MemoryWriterOutput{
			{
				Episodes: []types.EpisodeBoundary{{StartIdx: 0, EndIdx: 5, Label: "debugging"}},
				Memories: []types.MemoryOp{{Op: types.OpAdd, Text: "x", Polarity: 1,
					Scope: types.ScopeProject, OwnerType: types.OwnerUser, OwnerID: "u",
					Kind: types.KindNote, Tier: types.TierShortTerm, Confidence: 0.5}},
			},
			{DiscardReason: "no actionable signal"},
		},
	}
	p, err := NewPipeline(writer, nil, chunking.Config{ChunkSize: 10, Overlap: 3}, nil)
	require.NoError(t, err)

	result := p.IngestEvents(context.Background(), makeEvents(17), testParams(), "")

	assert.Equal(t, 2, result.ChunksProcessed)
	assert.Equal(t, 1, result.EpisodesDetected)
	assert.Equal(t, 1, result.MemoriesExtracted)
	require.Len(t, result.ChunkOutputs, 2)
	assert.Equal(t, "no actionable signal", result.ChunkOutputs[1].DiscardReason)
}

func TestIngestEmptyInput(t *testing.T) {
	writer := &stubWriter{}
	p, err := NewPipeline(writer, nil, chunking.DefaultConfig(), nil)
	require.NoError(t, err)

	result := p.IngestEvents(context.Background(), nil, testParams(), "")

	assert.Zero(t, result.ChunksProcessed)
	assert.Empty(t, result.Errors)
	assert.Empty(t, writer.requests)
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	_, err := NewPipeline(&stubWriter{}, nil, chunking.Config{ChunkSize: 5, Overlap: 5}, nil)
	assert.Error(t, err)

	_, err = NewPipeline(nil, nil, chunking.DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestSingleUserCorrectionSession(t *testing.T) {
	writer := &stubWriter{
		outputs: []*types.MemoryWriterOutput{{
			Memories: []types.MemoryOp{{
				Op:         types.OpAdd,
				Scope:      types.ScopeProject,
				OwnerType:  types.OwnerUser,
				OwnerID:    "user-1",
				Kind:       types.KindPreference,
				Tier:       types.TierLongTerm,
				Polarity:   1,
				Text:       "use httpx instead of requests",
				Confidence: 0.9,
				Evidence:   types.OpEvidence{Source: types.SourceUserCorrection, Frustration: types.FrustrationNone},
			}},
		}},
	}
	p, err := NewPipeline(writer, nil, chunking.DefaultConfig(), nil)
	require.NoError(t, err)

	events := []types.Event{{
		TS:      time.Now(),
		Role:    types.RoleUser,
		Kind:    types.KindMessage,
		Summary: "use httpx not requests",
	}}
	result := p.IngestEvents(context.Background(), events, testParams(), "")

	require.Len(t, writer.requests, 1)
	req := writer.requests[0]
	require.Len(t, req.Events, 1)
	assert.Equal(t, 0, req.Events[0].Idx)
	assert.Equal(t, "use httpx not requests", req.Events[0].Summary)
	assert.Equal(t, 1, result.ChunksProcessed)
	assert.Equal(t, 1, result.MemoriesExtracted)
}

// fixedParser returns canned episodes regardless of path.
type fixedParser struct {
	sessions []string
	episodes map[string][]types.Episode
}

func (p *fixedParser) GetSessions(string) ([]string, error) { return p.sessions, nil }

func (p *fixedParser) ParseSession(path string) ([]types.Episode, error) {
	return p.episodes[path], nil
}

func TestIngestProjectSumsSessions(t *testing.T) {
	now := time.Now()
	mkEpisode := func(n int) types.Episode {
		return types.Episode{
			SessionID: fmt.Sprintf("s%d", n),
			ProjectID: "proj-1",
			StartTS:   now,
			EndTS:     now.Add(time.Minute),
			Events:    makeEvents(n),
		}
	}
	fp := &fixedParser{
		sessions: []string{"a.jsonl", "b.jsonl", "empty.jsonl"},
		episodes: map[string][]types.Episode{
			"a.jsonl": {mkEpisode(3)},
			"b.jsonl": {mkEpisode(4)},
		},
	}
	writer := &stubWriter{}
	p, err := NewPipeline(writer, fp, chunking.DefaultConfig(), nil)
	require.NoError(t, err)

	result, err := p.IngestProject(context.Background(), "/tmp/proj", testParams())
	require.NoError(t, err)

	// One chunk per non-empty session; the empty session contributes nothing.
	assert.Equal(t, 2, result.ChunksProcessed)
	assert.Empty(t, result.Errors)
}

func TestIngestSessionCommitsMemories(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "sqrl.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	fp := &fixedParser{
		episodes: map[string][]types.Episode{
			"session.jsonl": {{
				SessionID: "session",
				ProjectID: "proj-1",
				StartTS:   now,
				EndTS:     now.Add(time.Minute),
				Events:    makeEvents(2),
			}},
		},
	}
	writer := &stubWriter{
		outputs: []*types.MemoryWriterOutput{{
			Memories: []types.MemoryOp{
				{
					Op: types.OpAdd, Scope: types.ScopeProject,
					OwnerType: types.OwnerUser, OwnerID: "user-1",
					Kind: types.KindGuard, Tier: types.TierLongTerm, Polarity: -1,
					Text: "never run db:reset against the shared staging database",
					TTLDays: 30, Confidence: 0.95,
					Evidence: types.OpEvidence{Source: types.SourceGuardTriggered, Frustration: types.FrustrationSevere},
				},
				// Invalid: UPDATE without a target. Must not abort the sibling ADD.
				{Op: types.OpUpdate, Polarity: 1, Confidence: 0.5},
			},
		}},
	}

	p, err := NewPipeline(writer, fp, chunking.DefaultConfig(), NewCommitter(store, nil))
	require.NoError(t, err)

	result, err := p.IngestSession(context.Background(), "session.jsonl", testParams())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ChunksProcessed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "op 1 (UPDATE)")

	ctx := context.Background()
	memories, err := store.ActiveMemories(ctx, "", now)
	require.NoError(t, err)
	assert.Empty(t, memories) // new memories start provisional

	// The ADD landed, provisional, with its TTL applied.
	mems, err := store.RecentMemories(ctx, "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, mems, 1)
	m := mems[0]
	assert.Equal(t, types.StatusProvisional, m.Status)
	assert.Equal(t, -1, m.Polarity)
	require.NotNil(t, m.ExpiresAt)
	assert.True(t, m.ExpiresAt.After(now.AddDate(0, 0, 29)))

	// Episode was persisted and marked unprocessed (the chunk had an op error).
	ep, err := store.GetEpisode(ctx, epIDFromEvidence(t, store, m.ID))
	require.NoError(t, err)
	assert.Equal(t, "proj-1", ep.ProjectID)
	assert.False(t, ep.Processed)
}

// epIDFromEvidence resolves the episode a memory's evidence points at.
func epIDFromEvidence(t *testing.T, store *sqlite.Store, memoryID string) string {
	t.Helper()
	evs, err := store.EvidenceForMemory(context.Background(), memoryID)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	return evs[0].EpisodeID
}
