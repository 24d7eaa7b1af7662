package postgres

// These tests need a real PostgreSQL instance. Point SQRL_TEST_POSTGRES_DSN
// at one to run them; otherwise they are skipped.

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqrlhq/sqrl/internal/storage"
	"github.com/sqrlhq/sqrl/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SQRL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SQRL_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testMemory(projectID string) *types.Memory {
	return &types.Memory{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Scope:      types.ScopeProject,
		OwnerType:  types.OwnerTeam,
		OwnerID:    "team-1",
		Kind:       types.KindInvariant,
		Tier:       types.TierLongTerm,
		Polarity:   1,
		Text:       "migrations run through the deploy pipeline, never by hand",
		Status:     types.StatusProvisional,
		Confidence: 0.8,
	}
}

func testEpisode(projectID string) *types.EpisodeRecord {
	now := time.Now()
	return &types.EpisodeRecord{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		StartTS:    now.Add(-time.Minute),
		EndTS:      now,
		EventsJSON: "[]",
	}
}

func TestInsertAndGetMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMemory("proj-pg")
	require.NoError(t, s.InsertMemory(ctx, m, nil))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Text, got.Text)
	assert.Equal(t, types.StatusProvisional, got.Status)

	metrics, err := s.GetMetrics(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.UseCount)
}

func TestStatusMonotonicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMemory("proj-pg")
	require.NoError(t, s.InsertMemory(ctx, m, nil))

	m.Status = types.StatusActive
	require.NoError(t, s.UpdateMemory(ctx, m, nil))

	m.Status = types.StatusProvisional
	assert.ErrorIs(t, s.UpdateMemory(ctx, m, nil), storage.ErrStatusRegression)
}

func TestEvidenceLinksEpisode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ep := testEpisode("proj-pg")
	require.NoError(t, s.InsertEpisode(ctx, ep))

	m := testMemory("proj-pg")
	ev := []types.Evidence{{
		ID:          uuid.NewString(),
		EpisodeID:   ep.ID,
		Source:      types.SourceUserCorrection,
		Frustration: types.FrustrationMild,
	}}
	require.NoError(t, s.InsertMemory(ctx, m, ev))

	// Evidence against an unknown episode must roll back the whole insert.
	m2 := testMemory("proj-pg")
	badEv := []types.Evidence{{
		ID:        uuid.NewString(),
		EpisodeID: uuid.NewString(),
		Source:    types.SourceUserCorrection,
	}}
	require.Error(t, s.InsertMemory(ctx, m2, badEv))
	_, err := s.GetMemory(ctx, m2.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
