package types

import (
	"fmt"
	"time"
)

// Scope controls where a memory applies.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeProject  Scope = "project"
	ScopeRepoPath Scope = "repo_path"
)

// OwnerType identifies who owns a memory.
type OwnerType string

const (
	OwnerUser OwnerType = "user"
	OwnerTeam OwnerType = "team"
	OwnerOrg  OwnerType = "org"
)

// MemoryKind categorizes what a memory expresses.
type MemoryKind string

const (
	KindPreference MemoryKind = "preference"
	KindInvariant  MemoryKind = "invariant"
	KindPattern    MemoryKind = "pattern"
	KindGuard      MemoryKind = "guard"
	KindNote       MemoryKind = "note"
)

// MemoryTier is a memory's durability/importance class.
type MemoryTier string

const (
	TierShortTerm MemoryTier = "short_term"
	TierLongTerm  MemoryTier = "long_term"
	TierEmergency MemoryTier = "emergency"
)

// MemoryStatus is a memory's lifecycle status. Status moves forward only:
// provisional -> active -> deprecated. Deprecated is terminal.
type MemoryStatus string

const (
	StatusProvisional MemoryStatus = "provisional"
	StatusActive      MemoryStatus = "active"
	StatusDeprecated  MemoryStatus = "deprecated"
)

// statusRank orders lifecycle statuses for forward-only transition checks.
var statusRank = map[MemoryStatus]int{
	StatusProvisional: 0,
	StatusActive:      1,
	StatusDeprecated:  2,
}

// IsValidStatusTransition reports whether a memory may move from current to
// next. Same-status writes are allowed; backward moves are not.
func IsValidStatusTransition(current, next MemoryStatus) bool {
	cr, ok := statusRank[current]
	if !ok {
		return false
	}
	nr, ok := statusRank[next]
	if !ok {
		return false
	}
	return nr >= cr
}

// EvidenceSource classifies why a memory was created or reinforced.
type EvidenceSource string

const (
	SourceFailureThenSuccess EvidenceSource = "failure_then_success"
	SourceUserCorrection     EvidenceSource = "user_correction"
	SourceExplicitStatement  EvidenceSource = "explicit_statement"
	SourcePatternObserved    EvidenceSource = "pattern_observed"
	SourceGuardTriggered     EvidenceSource = "guard_triggered"
)

// Memory is a durable, scoped fact/preference/pattern/guard derived from
// interaction history. It is the persisted record in the memories table.
type Memory struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"project_id,omitempty"`
	Scope      Scope        `json:"scope"`
	OwnerType  OwnerType    `json:"owner_type"`
	OwnerID    string       `json:"owner_id"`
	Kind       MemoryKind   `json:"kind"`
	Tier       MemoryTier   `json:"tier"`
	Polarity   int          `json:"polarity"`
	Key        string       `json:"key,omitempty"`
	Text       string       `json:"text"`
	Status     MemoryStatus `json:"status"`
	Confidence float64      `json:"confidence"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	Embedding  []byte       `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Validate checks the memory's enum fields and value ranges. It returns a
// descriptive error for the first violation found; nothing is coerced.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("memory ID is required")
	}
	if m.Text == "" {
		return fmt.Errorf("memory text is required")
	}
	switch m.Scope {
	case ScopeGlobal, ScopeProject, ScopeRepoPath:
	default:
		return fmt.Errorf("invalid scope %q", m.Scope)
	}
	switch m.OwnerType {
	case OwnerUser, OwnerTeam, OwnerOrg:
	default:
		return fmt.Errorf("invalid owner_type %q", m.OwnerType)
	}
	if m.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	switch m.Kind {
	case KindPreference, KindInvariant, KindPattern, KindGuard, KindNote:
	default:
		return fmt.Errorf("invalid kind %q", m.Kind)
	}
	switch m.Tier {
	case TierShortTerm, TierLongTerm, TierEmergency:
	default:
		return fmt.Errorf("invalid tier %q", m.Tier)
	}
	if m.Polarity != 1 && m.Polarity != -1 {
		return fmt.Errorf("polarity must be 1 or -1, got %d", m.Polarity)
	}
	switch m.Status {
	case StatusProvisional, StatusActive, StatusDeprecated:
	default:
		return fmt.Errorf("invalid status %q", m.Status)
	}
	if m.Confidence < 0.0 || m.Confidence > 1.0 {
		return fmt.Errorf("confidence must be in [0,1], got %g", m.Confidence)
	}
	return nil
}

// Evidence links a memory to the episode that justified creating or updating
// it. One row per (memory, supporting episode) pair; the audit trail an
// external consolidation process uses to promote provisional memories.
type Evidence struct {
	ID          string         `json:"id"`
	MemoryID    string         `json:"memory_id"`
	EpisodeID   string         `json:"episode_id"`
	Source      EvidenceSource `json:"source"`
	Frustration Frustration    `json:"frustration"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MemoryMetrics is the per-memory usage counter row, created zeroed at memory
// insert time and mutated only by the retrieval/usage-tracking subsystem.
type MemoryMetrics struct {
	MemoryID             string     `json:"memory_id"`
	UseCount             int        `json:"use_count"`
	Opportunities        int        `json:"opportunities"`
	SuspectedRegretHits  int        `json:"suspected_regret_hits"`
	EstimatedRegretSaved float64    `json:"estimated_regret_saved"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
	LastEvaluatedAt      *time.Time `json:"last_evaluated_at,omitempty"`
}

// EpisodeRecord is the persisted form of an Episode in the episodes table.
// Evidence rows reference it by ID.
type EpisodeRecord struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	StartTS    time.Time `json:"start_ts"`
	EndTS      time.Time `json:"end_ts"`
	EventsJSON string    `json:"events_json"`
	Processed  bool      `json:"processed"`
	CreatedAt  time.Time `json:"created_at"`
}
