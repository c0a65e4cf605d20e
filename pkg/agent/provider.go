package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/briefing/pkg/toolexecutor"
)

// LLMProvider opens streaming completions against one provider account.
type LLMProvider interface {
	// Stream starts a completion. Errors returned here or from the first
	// call to Next happen before any output and may be retried elsewhere.
	Stream(ctx context.Context, request LLMRequest) (ModelStream, error)

	// Provider returns the provider name
	Provider() string
}

// ModelStream yields deltas until Next returns false; Err then reports
// why the stream ended early.
type ModelStream interface {
	Next() bool
	Delta() ModelDelta
	Err() error
	Close() error
}

// DeltaKind discriminates model deltas.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text"
	DeltaReasoning DeltaKind = "reasoning"
	DeltaToolCall  DeltaKind = "tool-call"
	DeltaFinish    DeltaKind = "finish"
)

// ModelDelta is one increment of model output. Tool calls are delivered
// whole, once their arguments are complete.
type ModelDelta struct {
	Kind         DeltaKind
	Text         string
	ToolCall     *ToolCall
	FinishReason string
	Usage        *TokenUsage
}

// ToolCall is a complete tool call request from the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// LLMRequest contains the request parameters for one model step.
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []AgentMessage
	Tools        []toolexecutor.Definition
	// NoToolCalls keeps Tools declared but tells the model not to call
	// them. Conversations holding tool results must still declare tools.
	NoToolCalls bool
	Temperature float64
	MaxTokens   int
}

// AgentMessage is a provider-neutral chat message.
type AgentMessage struct {
	Role       string     `json:"role"` // "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates the built-in providers.
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	switch profile.Provider {
	case "openrouter":
		baseURL := profile.BaseURL
		if baseURL == "" {
			baseURL = OpenRouterBaseURL
		}
		return NewOpenAIProvider("openrouter", profile.APIKey, baseURL), nil
	case "openai":
		return NewOpenAIProvider("openai", profile.APIKey, profile.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// prefixedStream replays a delta that was read while opening the stream.
type prefixedStream struct {
	first   ModelDelta
	pending bool
	current ModelDelta
	inner   ModelStream
}

func (s *prefixedStream) Next() bool {
	if s.pending {
		s.pending = false
		s.current = s.first
		return true
	}
	if s.inner.Next() {
		s.current = s.inner.Delta()
		return true
	}
	return false
}

func (s *prefixedStream) Delta() ModelDelta { return s.current }
func (s *prefixedStream) Err() error        { return s.inner.Err() }
func (s *prefixedStream) Close() error      { return s.inner.Close() }

// peek reads the first delta so that errors surfacing on the first read
// count as open failures.
func peek(ms ModelStream) (ModelStream, error) {
	if ms.Next() {
		return &prefixedStream{first: ms.Delta(), pending: true, inner: ms}, nil
	}
	if err := ms.Err(); err != nil {
		_ = ms.Close()
		return nil, err
	}
	return &prefixedStream{inner: ms}, nil
}
