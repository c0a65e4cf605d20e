package agent

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIProvider streams chat completions from OpenAI or any
// OpenAI-compatible gateway such as OpenRouter.
type OpenAIProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider creates a provider. An empty baseURL uses the SDK default.
func NewOpenAIProvider(name, apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries happen in the runner, where failover can also kick in.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return p.name
}

// Stream starts a streaming chat completion.
func (p *OpenAIProvider) Stream(ctx context.Context, request LLMRequest) (ModelStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: openAIMessages(request),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, def := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.Parameters),
				},
			})
		}
		params.Tools = tools
		if request.NoToolCalls {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(string(openai.ChatCompletionToolChoiceOptionAutoNone)),
			}
		}
	}

	s := p.client.Chat.Completions.NewStreaming(ctx, params)
	return peek(&openAIStream{stream: s, calls: make(map[int64]*partialCall)})
}

func openAIMessages(request LLMRequest) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(normalizeInput(tc.Input)),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return messages
}

type partialCall struct {
	id   string
	name string
	args []byte
}

// openAIStream turns completion chunks into deltas. Tool call fragments
// are joined by index and released when the choice finishes.
type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	calls  map[int64]*partialCall

	queue   []ModelDelta
	current ModelDelta
	done    bool
	finish  string
	usage   *TokenUsage
}

func (s *openAIStream) Next() bool {
	for len(s.queue) == 0 {
		if s.done {
			return false
		}
		if !s.stream.Next() {
			s.done = true
			if s.stream.Err() != nil {
				return false
			}
			s.flushCalls()
			reason := s.finish
			if reason == "" {
				reason = "stop"
			}
			s.queue = append(s.queue, ModelDelta{Kind: DeltaFinish, FinishReason: reason, Usage: s.usage})
			continue
		}
		s.translate(s.stream.Current())
	}

	s.current = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

func (s *openAIStream) translate(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		s.usage = &TokenUsage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if field, ok := choice.Delta.JSON.ExtraFields["reasoning"]; ok {
		var reasoning string
		if json.Unmarshal([]byte(field.Raw()), &reasoning) == nil && reasoning != "" {
			s.queue = append(s.queue, ModelDelta{Kind: DeltaReasoning, Text: reasoning})
		}
	}
	if choice.Delta.Content != "" {
		s.queue = append(s.queue, ModelDelta{Kind: DeltaText, Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		call, ok := s.calls[tc.Index]
		if !ok {
			call = &partialCall{}
			s.calls[tc.Index] = call
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
		}
		call.args = append(call.args, tc.Function.Arguments...)
	}
	if choice.FinishReason != "" {
		s.finish = normalizeFinishReason(choice.FinishReason)
		s.flushCalls()
	}
}

func (s *openAIStream) flushCalls() {
	if len(s.calls) == 0 {
		return
	}
	indexes := make([]int64, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })

	for _, i := range indexes {
		call := s.calls[i]
		s.queue = append(s.queue, ModelDelta{
			Kind: DeltaToolCall,
			ToolCall: &ToolCall{
				ID:    call.id,
				Name:  call.name,
				Input: normalizeInput(call.args),
			},
		})
	}
	s.calls = make(map[int64]*partialCall)
}

func (s *openAIStream) Delta() ModelDelta { return s.current }
func (s *openAIStream) Err() error        { return s.stream.Err() }
func (s *openAIStream) Close() error      { return s.stream.Close() }

func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop", "end_turn", "stop_sequence":
		return "stop"
	case "length", "max_tokens":
		return "length"
	case "tool_calls", "tool_use", "function_call":
		return "tool-calls"
	case "content_filter", "refusal":
		return "content-filter"
	default:
		return "other"
	}
}
