package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/stream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport replays scripted events. With block set it holds the
// stream open after the events until ctx ends.
type fakeTransport struct {
	mu       sync.Mutex
	events   []stream.Event
	err      error
	block    bool
	sent     chan struct{}
	requests []Request
}

func (f *fakeTransport) Send(ctx context.Context, req Request, handle func(stream.Event)) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	events, err, block := f.events, f.err, f.block
	f.mu.Unlock()

	for _, ev := range events {
		handle(ev)
	}
	if block {
		if f.sent != nil {
			close(f.sent)
		}
		<-ctx.Done()
		// Late events after a stop must be ignored.
		handle(stream.TextDelta("t1", " late"))
		return ctx.Err()
	}
	return err
}

func (f *fakeTransport) lastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newStore(t *testing.T, tr Transport) *Store {
	t.Helper()
	s, err := New(Config{ChatID: "chat-1", Model: "m", Transport: tr, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func textReply(text string) []stream.Event {
	return []stream.Event{
		stream.Start("msg-1"),
		stream.StartStep(),
		stream.TextStart("t1"),
		stream.TextDelta("t1", text),
		stream.TextEnd("t1"),
		stream.FinishStep(),
		stream.Finish("stop"),
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := New(Config{Transport: &fakeTransport{}})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ChatID())
	assert.Equal(t, StatusIdle, s.Status())
}

func TestStore_Send(t *testing.T) {
	tr := &fakeTransport{events: textReply("Hi there")}
	var seen []stream.EventType
	s, err := New(Config{
		ChatID:    "chat-1",
		Model:     "m",
		Transport: tr,
		Logger:    zerolog.Nop(),
		OnEvent:   func(ev stream.Event) { seen = append(seen, ev.Type) },
	})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "hello"))
	assert.Equal(t, StatusFinished, s.Status())
	assert.Len(t, seen, 7)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "msg-1", msgs[1].ID)
	assert.Equal(t, "Hi there", msgs[1].Text())

	req := tr.lastRequest()
	assert.Equal(t, "chat-1", req.ChatID)
	assert.Equal(t, "m", req.Model)
	assert.Len(t, req.Messages, 1)

	assert.ErrorIs(t, s.Send(context.Background(), ""), ErrEmptyMessage)
}

func TestStore_SendSanitizesHistory(t *testing.T) {
	tr := &fakeTransport{events: textReply("ok")}
	s := newStore(t, tr)

	frozen := conversation.NewAssistantMessage("a1")
	frozen.Parts = []conversation.Part{
		conversation.ReasoningPart("hmm"),
		conversation.ToolPart("news", "call_1", json.RawMessage(`{"query":"go"}`)),
	}
	require.NoError(t, s.Replay([]conversation.Message{conversation.NewUserMessage("news?"), frozen}))

	require.NoError(t, s.Send(context.Background(), "again"))

	req := tr.lastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, conversation.RoleUser, req.Messages[0].Role)
	assert.Equal(t, conversation.RoleUser, req.Messages[1].Role)
	// The local conversation keeps the frozen message.
	assert.Len(t, s.Messages(), 4)
}

func TestStore_ErrorEvent(t *testing.T) {
	tr := &fakeTransport{events: []stream.Event{
		stream.Start("msg-1"),
		stream.Error("all auth profiles failed"),
	}}
	s := newStore(t, tr)

	err := s.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, "all auth profiles failed", err.Error())
	assert.Equal(t, StatusError, s.Status())

	t.Run("conversation stays usable", func(t *testing.T) {
		tr.mu.Lock()
		tr.events = textReply("fine")
		tr.mu.Unlock()

		require.NoError(t, s.Send(context.Background(), "retry"))
		assert.Equal(t, StatusFinished, s.Status())
		assert.NoError(t, s.Err())
	})
}

func TestStore_TransportError(t *testing.T) {
	tr := &fakeTransport{err: errors.New("connection refused")}
	s := newStore(t, tr)

	err := s.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, StatusError, s.Status())
	assert.Len(t, s.Messages(), 1)
}

func TestStore_StreamWithoutFinish(t *testing.T) {
	tr := &fakeTransport{events: textReply("x")[:4]}
	s := newStore(t, tr)

	require.Error(t, s.Send(context.Background(), "hello"))
	assert.Equal(t, StatusError, s.Status())
}

func TestStore_AbortEvent(t *testing.T) {
	tr := &fakeTransport{events: []stream.Event{stream.Start("msg-1"), stream.Abort()}}
	s := newStore(t, tr)

	require.NoError(t, s.Send(context.Background(), "hello"))
	assert.Equal(t, StatusCancelled, s.Status())
}

func TestStore_StopFreezesToolParts(t *testing.T) {
	tr := &fakeTransport{
		sent:  make(chan struct{}),
		block: true,
		events: []stream.Event{
			stream.Start("msg-1"),
			stream.StartStep(),
			stream.ToolInputAvailable("call_1", "summarize_article", json.RawMessage(`{"articleUrl":"https://x.test/a","articleTitle":"A"}`)),
			stream.ToolRunning("call_1"),
		},
	}
	s := newStore(t, tr)
	assert.False(t, s.Stop(), "nothing to stop yet")

	done := make(chan error, 1)
	go func() {
		done <- s.Summarize(context.Background(), Article{Title: "A", Link: "https://x.test/a"}, StyleParagraph)
	}()
	<-tr.sent

	assert.Equal(t, StatusStreaming, s.Status())
	assert.Equal(t, SummaryInFlight, s.SummaryIndex()["https://x.test/a"].State)

	assert.True(t, s.Stop())
	require.NoError(t, <-done)
	assert.Equal(t, StatusCancelled, s.Status())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	reply := msgs[1]
	require.Len(t, reply.Parts, 1)
	assert.Equal(t, conversation.ToolRunning, reply.Parts[0].State)
	assert.Empty(t, reply.Text(), "late events are not applied")

	assert.Equal(t, conversation.DisplayInterrupted, s.ToolDisplay(reply.ID, reply.Parts[0]))
	assert.Equal(t, SummaryInterrupted, s.SummaryIndex()["https://x.test/a"].State)

	t.Run("replay reproduces the frozen state", func(t *testing.T) {
		other := newStore(t, &fakeTransport{})
		require.NoError(t, other.Replay(msgs))
		replayed := other.Messages()[1]
		assert.Equal(t, conversation.ToolRunning, replayed.Parts[0].State)
		assert.Equal(t, conversation.DisplayInterrupted, other.ToolDisplay(replayed.ID, replayed.Parts[0]))
	})
}

func TestStore_BusyRejectsSecondRequest(t *testing.T) {
	tr := &fakeTransport{sent: make(chan struct{}), block: true}
	s := newStore(t, tr)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "one") }()
	<-tr.sent

	assert.ErrorIs(t, s.Send(context.Background(), "two"), ErrBusy)
	assert.ErrorIs(t, s.Replay(nil), ErrBusy)

	s.Stop()
	require.NoError(t, <-done)
}

func TestStore_NewsArticles(t *testing.T) {
	s := newStore(t, &fakeTransport{})
	assert.Nil(t, s.NewsArticles())

	reply := conversation.NewAssistantMessage("a1")
	part := conversation.ToolPart("news", "call_1", json.RawMessage(`{"query":"go"}`))
	part.State = conversation.ToolOutputAvailable
	part.Output = json.RawMessage(`[{"title":"Go 1.24","link":"https://go.dev/blog"},{"title":"Other","link":"https://x.test"}]`)
	reply.Parts = []conversation.Part{part}
	require.NoError(t, s.Replay([]conversation.Message{conversation.NewUserMessage("go news"), reply}))

	articles := s.NewsArticles()
	require.Len(t, articles, 2)
	assert.Equal(t, Article{Title: "Go 1.24", Link: "https://go.dev/blog"}, articles[0])
}
