package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqrlhq/sqrl/pkg/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"skip": true}`, `{"skip": true}`},
		{"json fence", "```json\n{\"skip\": true}\n```", `{"skip": true}`},
		{"plain fence", "```\n{\"skip\": false}\n```", `{"skip": false}`},
		{"surrounding prose", `Here you go: {"a": 1} hope that helps`, `{"a": 1}`},
		{"nested objects", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"braces in strings", `{"text": "use {x} not {y}"}`, `{"text": "use {x} not {y}"}`},
		{"escaped quotes", `{"text": "say \"hi\""}`, `{"text": "say \"hi\""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestUnmarshalResponseWriterOutput(t *testing.T) {
	raw := "```json\n" + `{
  "episodes": [{"start_idx": 0, "end_idx": 3, "label": "ssl debugging"}],
  "memories": [{
    "op": "ADD",
    "episode_idx": 0,
    "scope": "project",
    "owner_type": "user",
    "owner_id": "default",
    "kind": "invariant",
    "tier": "short_term",
    "polarity": 1,
    "text": "use httpx not requests",
    "confidence": 0.9,
    "evidence": {"source": "user_correction", "frustration": "mild"}
  }],
  "carry_state": "ssl fix in progress"
}` + "\n```"

	var out types.MemoryWriterOutput
	require.NoError(t, unmarshalResponse(raw, &out))
	require.Len(t, out.Episodes, 1)
	require.Len(t, out.Memories, 1)
	assert.Equal(t, "ssl debugging", out.Episodes[0].Label)
	assert.Equal(t, types.OpAdd, out.Memories[0].Op)
	assert.Equal(t, types.SourceUserCorrection, out.Memories[0].Evidence.Source)
	assert.Equal(t, "ssl fix in progress", out.CarryState)
	assert.NoError(t, out.Memories[0].Validate())
}

func TestUnmarshalResponseRejectsGarbage(t *testing.T) {
	var out types.CleanerOutput
	assert.Error(t, unmarshalResponse("the model refused to answer", &out))
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		MaxFailures:          2,
		Timeout:              time.Minute,
		HalfOpenMaxSuccesses: 1,
	})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
	}

	// Third call is rejected without invoking fn.
	called := false
	_, err := cb.Execute(ctx, func() (any, error) { called = true; return nil, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, "open", cb.State())
}

func TestCircuitBreakerPassesResults(t *testing.T) {
	cb := NewCircuitBreaker()
	got, err := cb.Execute(context.Background(), func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, "closed", cb.State())
}

func TestCleanerOutputShapes(t *testing.T) {
	var skip types.CleanerOutput
	require.NoError(t, json.Unmarshal([]byte(`{"skip": true, "skip_reason": "just browsing"}`), &skip))
	assert.True(t, skip.Skip)
	assert.Equal(t, "just browsing", skip.SkipReason)

	var keep types.CleanerOutput
	require.NoError(t, json.Unmarshal([]byte(`{"skip": false, "correction_context": "user wants httpx"}`), &keep))
	assert.False(t, keep.Skip)
	assert.Equal(t, "user wants httpx", keep.CorrectionContext)
}
