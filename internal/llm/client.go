package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/sqrlhq/sqrl/pkg/types"
)

// ClientConfig configures the OpenAI-compatible client.
type ClientConfig struct {
	// BaseURL is the API endpoint (OpenAI, OpenRouter, or any compatible
	// proxy).
	BaseURL string

	// APIKey authenticates against BaseURL.
	APIKey string

	// Model is the chat model used for the memory writer and classifier.
	Model string

	// EmbeddingModel is the model used for embeddings.
	EmbeddingModel string

	// RequestsPerMinute caps outbound calls. Zero disables limiting.
	RequestsPerMinute int

	// Timeout bounds one request. Zero means 60s.
	Timeout time.Duration
}

// Client speaks to an OpenAI-compatible endpoint and implements MemoryWriter,
// LogCleaner, MemoryExtractor, and EmbeddingGenerator. Every call goes
// through a shared rate limiter and circuit breaker.
type Client struct {
	api     *openai.Client
	cfg     ClientConfig
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// NewClient builds a client for the configured endpoint.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: NewCircuitBreaker(),
	}
}

// complete runs one system+user chat exchange and returns the raw response
// text. Rate limiting happens before the breaker so queued callers do not
// burn breaker probes.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty chat response")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// ProcessChunk implements MemoryWriter.
func (c *Client) ProcessChunk(ctx context.Context, req ChunkRequest) (*types.MemoryWriterOutput, error) {
	eventsJSON, err := json.MarshalIndent(req.Events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("llm: failed to serialize events: %w", err)
	}

	carry := req.CarryState
	if carry == "" {
		carry = "(none)"
	}
	recent := "(none)"
	if len(req.RecentMemories) > 0 {
		data, err := json.MarshalIndent(req.RecentMemories, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("llm: failed to serialize recent memories: %w", err)
		}
		recent = string(data)
	}

	user := fmt.Sprintf(`PROJECT: %s
OWNER: %s/%s

CARRY STATE FROM PREVIOUS CHUNK:
%s

EXISTING MEMORIES (for context):
%s

EVENTS (chunk %d):
%s

Analyze this event chunk. Identify episode boundaries, decide what to remember,
and return any state to carry forward. Return JSON only.`,
		req.ProjectID, req.OwnerType, req.OwnerID, carry, recent, req.ChunkIndex, eventsJSON)

	raw, err := c.complete(ctx, memoryWriterSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("llm: memory writer call failed: %w", err)
	}

	var out types.MemoryWriterOutput
	if err := unmarshalResponse(raw, &out); err != nil {
		return nil, fmt.Errorf("llm: memory writer returned invalid output: %w", err)
	}
	return &out, nil
}

// Clean implements LogCleaner.
func (c *Client) Clean(ctx context.Context, projectID string, events []types.EpisodeEvent) (*types.CleanerOutput, error) {
	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("llm: failed to serialize events: %w", err)
	}

	user := fmt.Sprintf("PROJECT: %s\n\nEVENTS:\n%s\n\nReturn JSON only.", projectID, eventsJSON)

	raw, err := c.complete(ctx, cleanerSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("llm: log cleaner call failed: %w", err)
	}

	var out types.CleanerOutput
	if err := unmarshalResponse(raw, &out); err != nil {
		return nil, fmt.Errorf("llm: log cleaner returned invalid output: %w", err)
	}
	return &out, nil
}

// Extract implements MemoryExtractor.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (*types.ExtractorOutput, error) {
	stylesJSON, err := json.MarshalIndent(req.ExistingUserStyles, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("llm: failed to serialize user styles: %w", err)
	}
	memoriesJSON, err := json.MarshalIndent(req.ExistingProjectMemories, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("llm: failed to serialize project memories: %w", err)
	}

	user := fmt.Sprintf(`PROJECT: %s
PROJECT ROOT: %s

EXISTING USER STYLES:
%s

EXISTING PROJECT MEMORIES:
%s

USER CORRECTION:
%s

Classify this correction. Return JSON only.`,
		req.ProjectID, req.ProjectRoot, stylesJSON, memoriesJSON, req.CorrectionContext)

	raw, err := c.complete(ctx, extractorSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("llm: memory extractor call failed: %w", err)
	}

	var out types.ExtractorOutput
	if err := unmarshalResponse(raw, &out); err != nil {
		return nil, fmt.Errorf("llm: memory extractor returned invalid output: %w", err)
	}
	return &out, nil
}

// Embed implements EmbeddingGenerator.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm: embedding call failed: %w", err)
	}
	return result.([]float32), nil
}

// unmarshalResponse parses a model response that should be a single JSON
// object, tolerating markdown code fences and surrounding prose.
func unmarshalResponse(raw string, v any) error {
	return json.Unmarshal([]byte(extractJSON(raw)), v)
}

// extractJSON returns the first top-level JSON object in text. Models
// occasionally wrap output in ```json fences or add commentary around it.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if fenced, ok := strings.CutPrefix(text, "```json"); ok {
		text = fenced
	} else if fenced, ok := strings.CutPrefix(text, "```"); ok {
		text = fenced
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}
