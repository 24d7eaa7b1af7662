package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMemory() *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:         "mem-1",
		ProjectID:  "proj-1",
		Scope:      ScopeProject,
		OwnerType:  OwnerUser,
		OwnerID:    "default",
		Kind:       KindPreference,
		Tier:       TierShortTerm,
		Polarity:   1,
		Text:       "use httpx not requests",
		Status:     StatusProvisional,
		Confidence: 0.9,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryValidate(t *testing.T) {
	require.NoError(t, validMemory().Validate())

	tests := []struct {
		name   string
		mutate func(*Memory)
	}{
		{"missing id", func(m *Memory) { m.ID = "" }},
		{"missing text", func(m *Memory) { m.Text = "" }},
		{"bad scope", func(m *Memory) { m.Scope = "galaxy" }},
		{"bad owner type", func(m *Memory) { m.OwnerType = "robot" }},
		{"missing owner id", func(m *Memory) { m.OwnerID = "" }},
		{"bad kind", func(m *Memory) { m.Kind = "opinion" }},
		{"bad tier", func(m *Memory) { m.Tier = "medium_term" }},
		{"zero polarity", func(m *Memory) { m.Polarity = 0 }},
		{"bad status", func(m *Memory) { m.Status = "retired" }},
		{"confidence too high", func(m *Memory) { m.Confidence = 1.5 }},
		{"confidence negative", func(m *Memory) { m.Confidence = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMemory()
			tt.mutate(m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	// Forward and same-status writes are allowed.
	assert.True(t, IsValidStatusTransition(StatusProvisional, StatusActive))
	assert.True(t, IsValidStatusTransition(StatusProvisional, StatusDeprecated))
	assert.True(t, IsValidStatusTransition(StatusActive, StatusDeprecated))
	assert.True(t, IsValidStatusTransition(StatusActive, StatusActive))
	assert.True(t, IsValidStatusTransition(StatusDeprecated, StatusDeprecated))

	// Backward moves are rejected; deprecated is terminal.
	assert.False(t, IsValidStatusTransition(StatusActive, StatusProvisional))
	assert.False(t, IsValidStatusTransition(StatusDeprecated, StatusActive))
	assert.False(t, IsValidStatusTransition(StatusDeprecated, StatusProvisional))

	// Unknown statuses never validate.
	assert.False(t, IsValidStatusTransition("retired", StatusActive))
	assert.False(t, IsValidStatusTransition(StatusActive, "retired"))
}

func TestFrustrationOrdering(t *testing.T) {
	assert.True(t, FrustrationMild.Exceeds(FrustrationNone))
	assert.True(t, FrustrationModerate.Exceeds(FrustrationMild))
	assert.True(t, FrustrationSevere.Exceeds(FrustrationModerate))
	assert.False(t, FrustrationNone.Exceeds(FrustrationNone))
	assert.False(t, FrustrationMild.Exceeds(FrustrationSevere))
}

func TestMemoryOpValidate(t *testing.T) {
	op := MemoryOp{
		Op:         OpAdd,
		Scope:      ScopeProject,
		OwnerType:  OwnerUser,
		OwnerID:    "default",
		Kind:       KindPreference,
		Tier:       TierShortTerm,
		Polarity:   1,
		Text:       "prefer table tests",
		Confidence: 0.8,
	}
	require.NoError(t, op.Validate())

	// ADD must not target an existing memory.
	bad := op
	bad.TargetMemoryID = "mem-1"
	assert.Error(t, bad.Validate())

	// UPDATE and DEPRECATE require a target.
	bad = op
	bad.Op = OpUpdate
	assert.Error(t, bad.Validate())
	bad.TargetMemoryID = "mem-1"
	assert.NoError(t, bad.Validate())

	bad = op
	bad.Op = OpDeprecate
	assert.Error(t, bad.Validate())

	// Guards are always polarity -1.
	bad = op
	bad.Kind = KindGuard
	assert.Error(t, bad.Validate())
	bad.Polarity = -1
	assert.NoError(t, bad.Validate())

	bad = op
	bad.Confidence = 2.0
	assert.Error(t, bad.Validate())
}

func TestEpisodeToEventsJSON(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ep := Episode{
		SessionID: "sess-1",
		ProjectID: "proj-1",
		StartTS:   t0,
		EndTS:     t0.Add(time.Minute),
		Events: []Event{
			{TS: t0, Role: RoleUser, Kind: KindMessage, Summary: "use httpx not requests"},
			{TS: t0.Add(time.Minute), Role: RoleTool, Kind: KindToolResult, Summary: "error: SSL", IsError: true},
		},
		Stats: EpisodeStats{ErrorCount: 1, UserFrustration: FrustrationMild},
	}

	out := ep.ToEventsJSON()
	require.Len(t, out.Events, 2)
	assert.Equal(t, "2025-03-01T12:00:00Z", out.Events[0].TS)
	assert.Equal(t, RoleUser, out.Events[0].Role)
	assert.Equal(t, 1, out.Stats.ErrorCount)
	assert.Equal(t, FrustrationMild, out.Stats.UserFrustration)
}
