package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sqrlhq/sqrl/internal/llm"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// ProcessEpisodeParams is the process_episode request schema.
type ProcessEpisodeParams struct {
	ProjectID               string                        `json:"project_id"`
	ProjectRoot             string                        `json:"project_root"`
	Events                  []types.EpisodeEvent          `json:"events"`
	ExistingUserStyles      []types.ExistingUserStyle     `json:"existing_user_styles"`
	ExistingProjectMemories []types.ExistingProjectMemory `json:"existing_project_memories"`
}

func (p *ProcessEpisodeParams) validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("%w: project_id is required", ErrValidation)
	}
	if p.ProjectRoot == "" {
		return fmt.Errorf("%w: project_root is required", ErrValidation)
	}
	if !filepath.IsAbs(p.ProjectRoot) {
		return NewRPCError(CodeInvalidProjectRoot,
			fmt.Sprintf("project_root must be an absolute path: %s", p.ProjectRoot))
	}
	if len(p.Events) == 0 {
		return fmt.Errorf("%w: events must not be empty", ErrValidation)
	}
	for i, ev := range p.Events {
		if ev.TS == "" || ev.Role == "" {
			return fmt.Errorf("%w: event %d is missing ts or role", ErrValidation, i)
		}
	}
	return nil
}

// ProcessEpisodeResult is the process_episode response. The op lists are
// always present, also when the episode was skipped; confidence filtering is
// the caller's job, the server returns the full unfiltered set.
type ProcessEpisodeResult struct {
	Skipped         bool                    `json:"skipped"`
	SkipReason      string                  `json:"skip_reason,omitempty"`
	UserStyles      []types.UserStyleOp     `json:"user_styles"`
	ProjectMemories []types.ProjectMemoryOp `json:"project_memories"`
}

// EpisodeProcessor runs the two-stage episode classifier behind the
// process_episode method.
type EpisodeProcessor struct {
	cleaner   llm.LogCleaner
	extractor llm.MemoryExtractor
}

// NewEpisodeProcessor wires the two classifier stages.
func NewEpisodeProcessor(cleaner llm.LogCleaner, extractor llm.MemoryExtractor) *EpisodeProcessor {
	return &EpisodeProcessor{cleaner: cleaner, extractor: extractor}
}

// RegisterWith binds the processor's methods onto srv.
func (p *EpisodeProcessor) RegisterWith(srv *Server) error {
	return srv.Register("process_episode", p.ProcessEpisode)
}

// ProcessEpisode handles one process_episode request: validate, run the Log
// Cleaner, and either return a skipped response or run the Memory Extractor
// for the proposed operations.
func (p *EpisodeProcessor) ProcessEpisode(ctx context.Context, raw json.RawMessage) (any, error) {
	var params ProcessEpisodeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	cleaned, err := p.cleaner.Clean(ctx, params.ProjectID, params.Events)
	if err != nil {
		return nil, NewRPCError(CodeLLMError, fmt.Sprintf("log cleaner failed: %v", err))
	}
	if cleaned.Skip {
		return &ProcessEpisodeResult{
			Skipped:         true,
			SkipReason:      cleaned.SkipReason,
			UserStyles:      []types.UserStyleOp{},
			ProjectMemories: []types.ProjectMemoryOp{},
		}, nil
	}

	extracted, err := p.extractor.Extract(ctx, llm.ExtractRequest{
		ProjectID:               params.ProjectID,
		ProjectRoot:             params.ProjectRoot,
		CorrectionContext:       cleaned.CorrectionContext,
		ExistingUserStyles:      params.ExistingUserStyles,
		ExistingProjectMemories: params.ExistingProjectMemories,
	})
	if err != nil {
		return nil, NewRPCError(CodeLLMError, fmt.Sprintf("memory extractor failed: %v", err))
	}

	result := &ProcessEpisodeResult{
		Skipped:         false,
		SkipReason:      extracted.SkipReason,
		UserStyles:      extracted.UserStyles,
		ProjectMemories: extracted.ProjectMemories,
	}
	if result.UserStyles == nil {
		result.UserStyles = []types.UserStyleOp{}
	}
	if result.ProjectMemories == nil {
		result.ProjectMemories = []types.ProjectMemoryOp{}
	}
	return result, nil
}
