package types

import "fmt"

// OpType is the kind of mutation a MemoryOp proposes.
type OpType string

const (
	OpAdd       OpType = "ADD"
	OpUpdate    OpType = "UPDATE"
	OpDeprecate OpType = "DEPRECATE"
)

// EpisodeBoundary marks a detected episode within a chunk. Indices are
// chunk-local; callers map them back through the chunk's start offset.
type EpisodeBoundary struct {
	StartIdx int    `json:"start_idx"`
	EndIdx   int    `json:"end_idx"`
	Label    string `json:"label"`
}

// OpEvidence is the provenance attached to a proposed memory operation.
type OpEvidence struct {
	Source      EvidenceSource `json:"source"`
	Frustration Frustration    `json:"frustration"`
}

// MemoryOp is a proposed mutation to the memory store, produced by the
// external Memory Writer.
type MemoryOp struct {
	Op             OpType     `json:"op"`
	TargetMemoryID string     `json:"target_memory_id,omitempty"`
	EpisodeIdx     int        `json:"episode_idx"`
	Scope          Scope      `json:"scope"`
	OwnerType      OwnerType  `json:"owner_type"`
	OwnerID        string     `json:"owner_id"`
	Kind           MemoryKind `json:"kind"`
	Tier           MemoryTier `json:"tier"`
	Polarity       int        `json:"polarity"`
	Key            string     `json:"key,omitempty"`
	Text           string     `json:"text"`
	TTLDays        int        `json:"ttl_days,omitempty"`
	Confidence     float64    `json:"confidence"`
	Evidence       OpEvidence `json:"evidence"`
}

// Validate checks the operation's structural requirements before it is
// committed. Field-level enum and range checks are shared with Memory.
func (op *MemoryOp) Validate() error {
	switch op.Op {
	case OpAdd:
		if op.TargetMemoryID != "" {
			return fmt.Errorf("ADD must not carry a target_memory_id")
		}
	case OpUpdate, OpDeprecate:
		if op.TargetMemoryID == "" {
			return fmt.Errorf("%s requires a target_memory_id", op.Op)
		}
	default:
		return fmt.Errorf("invalid op %q", op.Op)
	}
	if op.Op == OpAdd && op.Text == "" {
		return fmt.Errorf("ADD requires text")
	}
	if op.Polarity != 1 && op.Polarity != -1 {
		return fmt.Errorf("polarity must be 1 or -1, got %d", op.Polarity)
	}
	// Guards always warn against something.
	if op.Kind == KindGuard && op.Polarity != -1 {
		return fmt.Errorf("guard memories must have polarity -1")
	}
	if op.Confidence < 0.0 || op.Confidence > 1.0 {
		return fmt.Errorf("confidence must be in [0,1], got %g", op.Confidence)
	}
	return nil
}

// MemoryWriterOutput is the external Memory Writer's response for one chunk.
type MemoryWriterOutput struct {
	Episodes      []EpisodeBoundary `json:"episodes"`
	Memories      []MemoryOp        `json:"memories"`
	DiscardReason string            `json:"discard_reason,omitempty"`

	// CarryState is an opaque continuation token. The core never parses it;
	// it is passed verbatim into the next chunk's request.
	CarryState string `json:"carry_state,omitempty"`
}
