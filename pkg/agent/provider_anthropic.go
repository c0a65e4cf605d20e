package agent

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicProvider streams messages from Anthropic.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider. An empty baseURL uses the SDK default.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Stream starts a streaming message.
func (p *AnthropicProvider) Stream(ctx context.Context, request LLMRequest) (ModelStream, error) {
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultOptions().MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  anthropicMessages(request.Messages),
		MaxTokens: int64(maxTokens),
	}
	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.SystemPrompt}}
	}
	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, def := range request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: def.Parameters["properties"],
				},
			}
			if required, ok := def.Parameters["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
		if request.NoToolCalls {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		}
	}

	s := p.client.Messages.NewStreaming(ctx, params)
	return peek(&anthropicStream{stream: s})
}

func anthropicMessages(messages []AgentMessage) []anthropic.MessageParam {
	out := []anthropic.MessageParam{}
	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError),
			))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, normalizeInput(tc.Input), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

// anthropicStream accumulates stream events into a message and releases a
// tool call when its content block stops.
type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	message anthropic.Message

	queue   []ModelDelta
	current ModelDelta
	done    bool
}

func (s *anthropicStream) Next() bool {
	for len(s.queue) == 0 {
		if s.done {
			return false
		}
		if !s.stream.Next() {
			s.done = true
			if s.stream.Err() != nil {
				return false
			}
			s.queue = append(s.queue, ModelDelta{
				Kind:         DeltaFinish,
				FinishReason: normalizeFinishReason(string(s.message.StopReason)),
				Usage: &TokenUsage{
					InputTokens:  int(s.message.Usage.InputTokens),
					OutputTokens: int(s.message.Usage.OutputTokens),
				},
			})
			continue
		}
		s.translate(s.stream.Current())
	}

	s.current = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

func (s *anthropicStream) translate(event anthropic.MessageStreamEventUnion) {
	_ = s.message.Accumulate(event)

	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				s.queue = append(s.queue, ModelDelta{Kind: DeltaText, Text: delta.Text})
			}
		case anthropic.ThinkingDelta:
			if delta.Thinking != "" {
				s.queue = append(s.queue, ModelDelta{Kind: DeltaReasoning, Text: delta.Thinking})
			}
		}
	case anthropic.ContentBlockStopEvent:
		idx := int(ev.Index)
		if idx < 0 || idx >= len(s.message.Content) {
			return
		}
		if block, ok := s.message.Content[idx].AsAny().(anthropic.ToolUseBlock); ok {
			s.queue = append(s.queue, ModelDelta{
				Kind: DeltaToolCall,
				ToolCall: &ToolCall{
					ID:    block.ID,
					Name:  block.Name,
					Input: normalizeInput(block.Input),
				},
			})
		}
	}
}

func (s *anthropicStream) Delta() ModelDelta { return s.current }
func (s *anthropicStream) Err() error        { return s.stream.Err() }
func (s *anthropicStream) Close() error      { return s.stream.Close() }
