package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqrlhq/sqrl/internal/llm"
)

// Error codes surfaced to IPC clients for embedding failures.
const (
	CodeEmptyText       = -32040
	CodeEmbeddingFailed = -32041
)

// Error is an embedding failure with a protocol error code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Service turns memory text into encoded embedding blobs using an external
// embedding provider.
type Service struct {
	generator llm.EmbeddingGenerator

	// Dimensions is the expected vector size; zero disables the check.
	Dimensions int
}

// NewService creates a Service backed by gen.
func NewService(gen llm.EmbeddingGenerator, dimensions int) *Service {
	return &Service{generator: gen, Dimensions: dimensions}
}

// EmbedText generates an embedding for text and returns it as an encoded
// little-endian float32 blob ready for storage.
func (s *Service) EmbedText(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Code: CodeEmptyText, Message: "empty text"}
	}

	vec, err := s.generator.Embed(ctx, text)
	if err != nil {
		return nil, &Error{Code: CodeEmbeddingFailed, Message: fmt.Sprintf("embedding error: %v", err)}
	}
	if s.Dimensions > 0 && len(vec) != s.Dimensions {
		return nil, &Error{
			Code:    CodeEmbeddingFailed,
			Message: fmt.Sprintf("expected %d dimensions, got %d", s.Dimensions, len(vec)),
		}
	}
	return Encode(vec), nil
}
