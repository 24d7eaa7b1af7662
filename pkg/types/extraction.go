package types

import "fmt"

// EpisodeEvent is one event in a process_episode request.
type EpisodeEvent struct {
	TS             string `json:"ts"`
	Role           string `json:"role"`
	ContentSummary string `json:"content_summary"`
}

// ExistingUserStyle is a known user style passed as extractor context.
type ExistingUserStyle struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ExistingProjectMemory is a known project memory passed as extractor context.
type ExistingProjectMemory struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Text        string `json:"text"`
}

// CleanerOutput is the Log Cleaner's (stage 1) response: either skip with a
// reason, or a condensed description of what the user corrected.
type CleanerOutput struct {
	Skip              bool   `json:"skip"`
	SkipReason        string `json:"skip_reason,omitempty"`
	CorrectionContext string `json:"correction_context,omitempty"`
}

// ExtractorOp is the operation type in extractor outputs. Unlike MemoryOp's
// OpType, the extractor vocabulary uses DELETE.
type ExtractorOp string

const (
	ExtractorAdd    ExtractorOp = "ADD"
	ExtractorUpdate ExtractorOp = "UPDATE"
	ExtractorDelete ExtractorOp = "DELETE"
)

// UserStyleOp is a proposed mutation to the global user-style memories.
type UserStyleOp struct {
	Op         ExtractorOp `json:"op"`
	Text       string      `json:"text,omitempty"`
	TargetID   string      `json:"target_id,omitempty"`
	Confidence float64     `json:"confidence"`
}

// Validate checks the op's structural requirements.
func (o *UserStyleOp) Validate() error {
	switch o.Op {
	case ExtractorAdd:
		if o.Text == "" {
			return fmt.Errorf("ADD requires text")
		}
	case ExtractorUpdate, ExtractorDelete:
		if o.TargetID == "" {
			return fmt.Errorf("%s requires a target_id", o.Op)
		}
	default:
		return fmt.Errorf("invalid op %q", o.Op)
	}
	return nil
}

// ProjectMemoryOp is a proposed mutation to the project-specific memories.
type ProjectMemoryOp struct {
	Op          ExtractorOp `json:"op"`
	Category    string      `json:"category,omitempty"`
	Subcategory string      `json:"subcategory,omitempty"`
	Text        string      `json:"text,omitempty"`
	TargetID    string      `json:"target_id,omitempty"`
	Confidence  float64     `json:"confidence"`
}

// Validate checks the op's structural requirements.
func (o *ProjectMemoryOp) Validate() error {
	switch o.Op {
	case ExtractorAdd:
		if o.Text == "" {
			return fmt.Errorf("ADD requires text")
		}
	case ExtractorUpdate, ExtractorDelete:
		if o.TargetID == "" {
			return fmt.Errorf("%s requires a target_id", o.Op)
		}
	default:
		return fmt.Errorf("invalid op %q", o.Op)
	}
	return nil
}

// ExtractorOutput is the Memory Extractor's (stage 2) response.
type ExtractorOutput struct {
	UserStyles      []UserStyleOp     `json:"user_styles"`
	ProjectMemories []ProjectMemoryOp `json:"project_memories"`
	SkipReason      string            `json:"skip_reason,omitempty"`
}
