package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/briefing/pkg/commandqueue"
	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/session"
	"github.com/harun/briefing/pkg/stream"
	"github.com/harun/briefing/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// scriptStep is one scripted model step.
type scriptStep struct {
	openErr   error
	deltas    []ModelDelta
	streamErr error
	// block keeps the stream open until its context ends.
	block bool
}

type scriptedProvider struct {
	name string

	mu       sync.Mutex
	steps    []scriptStep
	requests []LLMRequest
}

func (p *scriptedProvider) Provider() string { return p.name }

func (p *scriptedProvider) Stream(ctx context.Context, request LLMRequest) (ModelStream, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, request)
	p.mu.Unlock()

	if i >= len(p.steps) {
		return nil, fmt.Errorf("unexpected model call %d", i+1)
	}
	st := p.steps[i]
	if st.openErr != nil {
		return nil, st.openErr
	}
	return &scriptedStream{ctx: ctx, step: st}, nil
}

func (p *scriptedProvider) calls() []LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LLMRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

type scriptedStream struct {
	ctx     context.Context
	step    scriptStep
	pos     int
	current ModelDelta
	err     error
}

func (s *scriptedStream) Next() bool {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.pos < len(s.step.deltas) {
		s.current = s.step.deltas[s.pos]
		s.pos++
		return true
	}
	if s.step.block {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
		return false
	}
	s.err = s.step.streamErr
	return false
}

func (s *scriptedStream) Delta() ModelDelta { return s.current }
func (s *scriptedStream) Err() error        { return s.err }
func (s *scriptedStream) Close() error      { return nil }

// providerMap serves a provider per auth profile id.
type providerMap map[string]LLMProvider

func (m providerMap) NewProvider(profile AuthProfile) (LLMProvider, error) {
	p, ok := m[profile.ID]
	if !ok {
		return nil, fmt.Errorf("no provider for %s", profile.ID)
	}
	return p, nil
}

func text(s string) ModelDelta { return ModelDelta{Kind: DeltaText, Text: s} }

func finish(reason string) ModelDelta { return ModelDelta{Kind: DeltaFinish, FinishReason: reason} }

func toolCall(id, name, input string) ModelDelta {
	return ModelDelta{Kind: DeltaToolCall, ToolCall: &ToolCall{ID: id, Name: name, Input: []byte(input)}}
}

type testEnv struct {
	runner   *Runner
	sessions *session.SessionManager
	// toolStarted receives the call id each time the news tool starts.
	toolStarted chan string
}

func testRegistry(t *testing.T, started chan string) *toolexecutor.Registry {
	t.Helper()
	reg := toolexecutor.NewRegistry()
	require.NoError(t, reg.Register(toolexecutor.ToolSpec{
		Name:        toolexecutor.ToolWeather,
		Description: "Current weather",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "location", Type: "string", Description: "City", Required: true},
		},
		Handler: func(ctx context.Context, in toolexecutor.ValidatedInput) (interface{}, error) {
			return map[string]interface{}{"location": in.String("location"), "temperature": 3}, nil
		},
	}))
	// news blocks until cancelled so tests can observe a tool in flight.
	require.NoError(t, reg.Register(toolexecutor.ToolSpec{
		Name:        toolexecutor.ToolNews,
		Description: "News search",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Query", Required: true},
		},
		Handler: func(ctx context.Context, in toolexecutor.ValidatedInput) (interface{}, error) {
			info, _ := toolexecutor.CallInfoFromContext(ctx)
			started <- info.ToolCallID
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	return reg
}

func newTestEnv(t *testing.T, profiles []AuthProfile, providers providerMap) *testEnv {
	t.Helper()

	started := make(chan string, 4)
	sm, err := session.New(t.TempDir())
	require.NoError(t, err)

	cq := commandqueue.New()
	t.Cleanup(func() { _ = cq.Close() })

	runner, err := NewRunner(Config{
		Executor:        toolexecutor.New(testRegistry(t, started)),
		CommandQueue:    cq,
		Sessions:        sm,
		Profiles:        profiles,
		ProviderFactory: providers,
		Logger:          zerolog.Nop(),
		Options: Options{
			RetryBaseDelay: time.Millisecond,
			MaxRetries:     2,
		},
	})
	require.NoError(t, err)

	return &testEnv{runner: runner, sessions: sm, toolStarted: started}
}

func newSingleEnv(t *testing.T, p *scriptedProvider) *testEnv {
	t.Helper()
	return newTestEnv(t,
		[]AuthProfile{{ID: "primary", Provider: "openrouter", Priority: 1}},
		providerMap{"primary": p},
	)
}

func userRequest(chatID, text string) InvocationRequest {
	return InvocationRequest{
		ChatID:   chatID,
		Messages: []conversation.Message{conversation.NewUserMessage(text)},
	}
}

func collect(inv *Invocation) []stream.Event {
	var events []stream.Event
	for ev := range inv.Events() {
		events = append(events, ev)
	}
	return events
}

func types(events []stream.Event) []stream.EventType {
	out := make([]stream.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
