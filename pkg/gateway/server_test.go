package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/agent"
	"github.com/harun/briefing/pkg/commandqueue"
	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/session"
	"github.com/harun/briefing/pkg/stream"
	"github.com/harun/briefing/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProvider answers with the last user message. The message "block"
// produces one delta and then holds the stream open until cancelled.
type echoProvider struct{}

func (echoProvider) Provider() string { return "echo" }

func (echoProvider) Stream(ctx context.Context, request agent.LLMRequest) (agent.ModelStream, error) {
	last := request.Messages[len(request.Messages)-1].Content
	s := &echoStream{ctx: ctx, block: last == "block"}
	s.deltas = []agent.ModelDelta{{Kind: agent.DeltaText, Text: "echo: " + last}}
	if !s.block {
		s.deltas = append(s.deltas, agent.ModelDelta{Kind: agent.DeltaFinish, FinishReason: "stop"})
	}
	return s, nil
}

func (echoProvider) NewProvider(agent.AuthProfile) (agent.LLMProvider, error) {
	return echoProvider{}, nil
}

type echoStream struct {
	ctx     context.Context
	deltas  []agent.ModelDelta
	block   bool
	current agent.ModelDelta
	err     error
}

func (s *echoStream) Next() bool {
	if len(s.deltas) > 0 {
		s.current, s.deltas = s.deltas[0], s.deltas[1:]
		return true
	}
	if s.block {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
	}
	return false
}

func (s *echoStream) Delta() agent.ModelDelta { return s.current }
func (s *echoStream) Err() error              { return s.err }
func (s *echoStream) Close() error            { return nil }

func newTestServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()

	reg := toolexecutor.NewRegistry()
	require.NoError(t, reg.Register(toolexecutor.ToolSpec{
		Name:        toolexecutor.ToolWeather,
		Description: "Current weather",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "location", Type: "string", Description: "City", Required: true},
		},
		Handler: func(ctx context.Context, in toolexecutor.ValidatedInput) (interface{}, error) {
			return map[string]interface{}{"location": in.String("location")}, nil
		},
	}))
	executor := toolexecutor.New(reg)

	sm, err := session.New(t.TempDir())
	require.NoError(t, err)
	cq := commandqueue.New()
	t.Cleanup(func() { _ = cq.Close() })

	runner, err := agent.NewRunner(agent.Config{
		Executor:        executor,
		CommandQueue:    cq,
		Sessions:        sm,
		Profiles:        []agent.AuthProfile{{ID: "echo", Provider: "openrouter"}},
		ProviderFactory: echoProvider{},
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	s, err := NewServer(Config{
		SharedSecret: secret,
		Runner:       runner,
		Executor:     executor,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func chatBody(t *testing.T, chatID, text string) io.Reader {
	t.Helper()
	body, err := json.Marshal(agent.InvocationRequest{
		ChatID:   chatID,
		Messages: []conversation.Message{conversation.NewUserMessage(text)},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func readAll(t *testing.T, r *stream.SSEReader) []stream.Event {
	t.Helper()
	var events []stream.Event
	for {
		ev, err := r.Next()
		if stream.IsEndOfStream(err) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func eventTypes(events []stream.Event) []stream.EventType {
	out := make([]stream.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestServer_Chat(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", chatBody(t, "chat-1", "hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "chat-1", resp.Header.Get(ChatIDHeader))
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))

	events := readAll(t, stream.NewSSEReader(resp.Body))
	assert.Equal(t, []stream.EventType{
		stream.EventStart,
		stream.EventStartStep,
		stream.EventTextStart,
		stream.EventTextDelta,
		stream.EventTextEnd,
		stream.EventFinishStep,
		stream.EventFinish,
	}, eventTypes(events))
	assert.Equal(t, "echo: hello", events[3].Delta)

	t.Run("history holds the exchange", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/chat/chat-1")
		require.NoError(t, err)
		defer resp.Body.Close()

		var history HistoryResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
		assert.Equal(t, "chat-1", history.ChatID)
		require.Len(t, history.Messages, 2)
		assert.Equal(t, conversation.RoleUser, history.Messages[0].Role)
		assert.Equal(t, conversation.RoleAssistant, history.Messages[1].Role)
	})
}

func TestServer_ChatAssignsID(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", chatBody(t, "", "hi"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get(ChatIDHeader))
	readAll(t, stream.NewSSEReader(resp.Body))
}

func TestServer_ChatRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"messages":`},
		{"no messages", `{"id":"chat-1","messages":[]}`},
		{"bad chat id", `{"id":"../etc","messages":[{"id":"m1","role":"user","parts":[{"type":"text","text":"hi"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestServer_Stop(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", chatBody(t, "chat-stop", "block"))
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := stream.NewSSEReader(resp.Body)
	for {
		ev, err := reader.Next()
		require.NoError(t, err)
		if ev.Type == stream.EventTextDelta {
			break
		}
	}

	stopResp, err := http.Post(srv.URL+"/api/chat/chat-stop/stop", "application/json", nil)
	require.NoError(t, err)
	defer stopResp.Body.Close()

	var stop StopResponse
	require.NoError(t, json.NewDecoder(stopResp.Body).Decode(&stop))
	assert.True(t, stop.Aborted)

	rest := readAll(t, reader)
	require.NotEmpty(t, rest)
	assert.Equal(t, stream.EventAbort, rest[len(rest)-1].Type)

	t.Run("stopping an idle chat is a no-op", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/chat/chat-idle/stop", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		var stop StopResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stop))
		assert.False(t, stop.Aborted)
	})
}

func TestServer_Tools(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/tools")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Tools []toolexecutor.Definition `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tools, 1)
	assert.Equal(t, string(toolexecutor.ToolWeather), body.Tools[0].Name)
}

func TestInvocationContext(t *testing.T) {
	ctx := tracing.WithTraceID(context.Background(), "trace-1")
	inv := &agent.Invocation{RunID: "run-1", ChatID: "chat-1", Model: "openai/gpt-4.1-nano"}

	got := tracing.FromContext(invocationContext(ctx, inv))
	assert.Equal(t, tracing.Fields{
		TraceID: "trace-1",
		RunID:   "run-1",
		ChatID:  "chat-1",
		Model:   "openai/gpt-4.1-nano",
	}, got)

	var buf bytes.Buffer
	tracing.LoggerFromContext(invocationContext(ctx, inv), zerolog.New(&buf)).Info().Msg("x")
	assert.Contains(t, buf.String(), `"model":"openai/gpt-4.1-nano"`)
	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
	assert.Equal(t, float64(0), body["streams"])
}

func TestServer_RequiresSecret(t *testing.T) {
	srv := newTestServer(t, "s3cret")

	resp, err := http.Get(srv.URL + "/api/tools")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/tools", nil)
	require.NoError(t, err)
	req.Header.Set(SecretHeader, "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	return conn
}

func sendChat(t *testing.T, conn *websocket.Conn, chatID, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ClientFrame{
		Type:     FrameChat,
		ChatID:   chatID,
		Messages: []conversation.Message{conversation.NewUserMessage(text)},
	}))
}

// readUntil reads frames until one has the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, want string) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for {
		var frame map[string]interface{}
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
		if frame["type"] == want {
			return frames
		}
	}
}

func TestServer_WebSocketChat(t *testing.T) {
	srv := newTestServer(t, "")
	conn := dialWS(t, srv, nil)

	sendChat(t, conn, "ws-chat", "hello")
	frames := readUntil(t, conn, string(stream.EventFinish))
	assert.Equal(t, string(stream.EventStart), frames[0]["type"])

	var deltas []string
	for _, f := range frames {
		if f["type"] == string(stream.EventTextDelta) {
			deltas = append(deltas, f["delta"].(string))
		}
	}
	assert.Equal(t, []string{"echo: hello"}, deltas)

	t.Run("stop frame aborts a running chat", func(t *testing.T) {
		sendChat(t, conn, "ws-block", "block")
		readUntil(t, conn, string(stream.EventTextDelta))

		require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameStop, ChatID: "ws-block"}))
		readUntil(t, conn, string(stream.EventAbort))
	})

	t.Run("unknown frames are reported", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(ClientFrame{Type: "bogus"}))
		frames := readUntil(t, conn, "error")
		assert.Contains(t, frames[len(frames)-1]["message"], "unknown frame type")
	})
}

func TestServer_WebSocketAuth(t *testing.T) {
	srv := newTestServer(t, "s3cret")

	t.Run("secret header skips the challenge", func(t *testing.T) {
		header := http.Header{}
		header.Set(SecretHeader, "s3cret")
		conn := dialWS(t, srv, header)

		sendChat(t, conn, "ws-header", "hi")
		frames := readUntil(t, conn, string(stream.EventFinish))
		assert.Equal(t, string(stream.EventStart), frames[0]["type"])
	})

	t.Run("challenge must be answered", func(t *testing.T) {
		conn := dialWS(t, srv, nil)

		var challenge Notice
		require.NoError(t, conn.ReadJSON(&challenge))
		require.Equal(t, "auth.challenge", challenge.Type)
		require.NotEmpty(t, challenge.Challenge)

		sendChat(t, conn, "ws-auth", "hi")
		var denied Notice
		require.NoError(t, conn.ReadJSON(&denied))
		assert.Equal(t, "error", denied.Type)
		assert.Equal(t, "authentication required", denied.Message)

		require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAuth, Signature: "nope"}))
		var failure Notice
		require.NoError(t, conn.ReadJSON(&failure))
		assert.Equal(t, "auth.failure", failure.Type)

		require.NoError(t, conn.WriteJSON(ClientFrame{
			Type:      FrameAuth,
			Signature: computeHMAC(challenge.Challenge, "s3cret"),
		}))
		var success Notice
		require.NoError(t, conn.ReadJSON(&success))
		assert.Equal(t, "auth.success", success.Type)

		sendChat(t, conn, "ws-auth", "hi")
		readUntil(t, conn, string(stream.EventFinish))
	})
}
