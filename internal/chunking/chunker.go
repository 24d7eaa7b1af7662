// Package chunking splits event lists into bounded, overlapping windows for
// the Memory Writer. The overlap gives each call genuine cross-chunk context
// even without full state replay; semantic continuity is the carry_state's job.
package chunking

import (
	"fmt"
	"iter"
	"time"

	"github.com/sqrlhq/sqrl/pkg/types"
)

// Config controls window size and overlap.
type Config struct {
	ChunkSize int
	Overlap   int
}

// DefaultConfig returns the default chunking parameters.
func DefaultConfig() Config {
	return Config{ChunkSize: 100, Overlap: 10}
}

// Validate rejects configs that cannot make forward progress.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunking: chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("chunking: overlap must be in [0, chunk_size), got %d", c.Overlap)
	}
	return nil
}

// EventChunk is one window of events. StartOffset and EndOffset are indices
// into the original event list, so chunk-local episode boundaries can always
// be mapped back to global positions.
type EventChunk struct {
	Events      []types.Event
	ChunkIndex  int
	IsFirst     bool
	IsLast      bool
	StartOffset int
	EndOffset   int
}

// Chunk returns a lazy, restartable sequence of overlapping windows covering
// events. Each window starts Overlap positions before the previous window's
// end, except that the final window is never overlapped backward again. An
// empty input yields an empty sequence.
//
// Callers must Validate the config first; Chunk assumes it can make progress.
func Chunk(events []types.Event, cfg Config) iter.Seq[EventChunk] {
	return func(yield func(EventChunk) bool) {
		total := len(events)
		if total == 0 {
			return
		}

		start := 0
		for index := 0; ; index++ {
			end := min(start+cfg.ChunkSize, total)
			chunk := EventChunk{
				Events:      events[start:end],
				ChunkIndex:  index,
				IsFirst:     index == 0,
				IsLast:      end >= total,
				StartOffset: start,
				EndOffset:   end,
			}
			if !yield(chunk) {
				return
			}
			if chunk.IsLast {
				return
			}
			start = end - cfg.Overlap
		}
	}
}

// WriterEvent is one event serialized for a Memory Writer request. Idx is the
// event's position in the original list so episode boundaries reported by the
// writer can be referenced back.
type WriterEvent struct {
	Idx      int             `json:"idx"`
	TS       string          `json:"ts"`
	Role     types.Role      `json:"role"`
	Kind     types.EventKind `json:"kind"`
	Summary  string          `json:"summary"`
	ToolName string          `json:"tool_name,omitempty"`
	File     string          `json:"file,omitempty"`
	IsError  bool            `json:"is_error"`
}

// ToWriterEvents converts a chunk's events into the Memory Writer request
// shape, tagging each with its index in the original event list.
func (c EventChunk) ToWriterEvents() []WriterEvent {
	out := make([]WriterEvent, 0, len(c.Events))
	for i, e := range c.Events {
		out = append(out, WriterEvent{
			Idx:      c.StartOffset + i,
			TS:       e.TS.Format(time.RFC3339Nano),
			Role:     e.Role,
			Kind:     e.Kind,
			Summary:  e.Summary,
			ToolName: e.ToolName,
			File:     e.File,
			IsError:  e.IsError,
		})
	}
	return out
}
