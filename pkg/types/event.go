// Package types defines the core data structures for the sqrl memory system:
// timeline events, episodes, memory operations, and the persisted memory,
// evidence, and metrics records they produce.
package types

import "time"

// Role identifies who produced a timeline event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// EventKind classifies what a timeline event represents.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindToolCall   EventKind = "tool_call"
	KindToolResult EventKind = "tool_result"
)

// Frustration is the detected user frustration level. Levels are ordered;
// within an episode the stored level only ever increases.
type Frustration string

const (
	FrustrationNone     Frustration = "none"
	FrustrationMild     Frustration = "mild"
	FrustrationModerate Frustration = "moderate"
	FrustrationSevere   Frustration = "severe"
)

// frustrationRank orders frustration levels for monotonic upgrades.
var frustrationRank = map[Frustration]int{
	FrustrationNone:     0,
	FrustrationMild:     1,
	FrustrationModerate: 2,
	FrustrationSevere:   3,
}

// Exceeds reports whether f is a strictly higher frustration level than other.
func (f Frustration) Exceeds(other Frustration) bool {
	return frustrationRank[f] > frustrationRank[other]
}

// TestStatus is the final test outcome observed in an episode.
type TestStatus string

const (
	TestsPassed TestStatus = "passed"
	TestsFailed TestStatus = "failed"
	TestsNotRun TestStatus = "not_run"
)

// Event is a single entry in an episode timeline. Events are created once by
// a parser and never mutated; they are persisted only inside an Episode's
// serialized event list.
type Event struct {
	TS         time.Time `json:"ts"`
	Role       Role      `json:"role"`
	Kind       EventKind `json:"kind"`
	Summary    string    `json:"summary"`
	ToolName   string    `json:"tool_name,omitempty"`
	File       string    `json:"file,omitempty"`
	RawSnippet string    `json:"raw_snippet,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
}

// EpisodeStats aggregates signal over an episode's events.
type EpisodeStats struct {
	ErrorCount       int         `json:"error_count"`
	RetryLoops       int         `json:"retry_loops"`
	TestsFinalStatus TestStatus  `json:"tests_final_status,omitempty"`
	UserFrustration  Frustration `json:"user_frustration"`
}

// Episode is a compressed session segment: the ordered events of one session
// plus aggregate stats. A parser produces exactly one Episode per session file.
type Episode struct {
	SessionID string       `json:"session_id"`
	ProjectID string       `json:"project_id"`
	StartTS   time.Time    `json:"start_ts"`
	EndTS     time.Time    `json:"end_ts"`
	Events    []Event      `json:"events"`
	Stats     EpisodeStats `json:"stats"`
}

// eventJSON is the persisted shape of one event inside events_json.
type eventJSON struct {
	TS         string    `json:"ts"`
	Role       Role      `json:"role"`
	Kind       EventKind `json:"kind"`
	ToolName   string    `json:"tool_name,omitempty"`
	File       string    `json:"file,omitempty"`
	Summary    string    `json:"summary"`
	RawSnippet string    `json:"raw_snippet,omitempty"`
}

// EventsJSON is the serializable form of an Episode stored in the episodes
// table's events_json column.
type EventsJSON struct {
	Events []eventJSON  `json:"events"`
	Stats  EpisodeStats `json:"stats"`
}

// ToEventsJSON converts the episode into the persisted events_json shape.
func (e *Episode) ToEventsJSON() EventsJSON {
	out := EventsJSON{
		Events: make([]eventJSON, 0, len(e.Events)),
		Stats:  e.Stats,
	}
	for _, ev := range e.Events {
		out.Events = append(out.Events, eventJSON{
			TS:         ev.TS.Format(time.RFC3339Nano),
			Role:       ev.Role,
			Kind:       ev.Kind,
			ToolName:   ev.ToolName,
			File:       ev.File,
			Summary:    ev.Summary,
			RawSnippet: ev.RawSnippet,
		})
	}
	return out
}
