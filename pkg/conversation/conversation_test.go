package conversation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance(t *testing.T) {
	t.Run("should accept forward single steps", func(t *testing.T) {
		assert.NoError(t, Advance(ToolPending, ToolRunning))
		assert.NoError(t, Advance(ToolRunning, ToolOutputAvailable))
		assert.NoError(t, Advance(ToolRunning, ToolError))
	})

	t.Run("should reject regressions, skips and terminal moves", func(t *testing.T) {
		cases := [][2]ToolState{
			{ToolRunning, ToolPending},
			{ToolPending, ToolOutputAvailable},
			{ToolPending, ToolError},
			{ToolOutputAvailable, ToolRunning},
			{ToolError, ToolOutputAvailable},
			{ToolRunning, ToolRunning},
		}
		for _, c := range cases {
			err := Advance(c[0], c[1])
			assert.True(t, errors.Is(err, ErrInvalidToolTransition), "%s -> %s", c[0], c[1])
		}
	})
}

func TestPartTransition(t *testing.T) {
	p := ToolPart("weather", "call-1", json.RawMessage(`{"location":"Oslo"}`))
	assert.Equal(t, ToolPending, p.State)
	assert.Equal(t, "tool-weather", p.Type)
	assert.Equal(t, "weather", p.ToolName())

	require.NoError(t, p.Transition(ToolRunning))
	require.NoError(t, p.Transition(ToolOutputAvailable))
	assert.Error(t, p.Transition(ToolRunning))
	assert.Equal(t, ToolOutputAvailable, p.State)

	text := TextPart("hi")
	assert.Error(t, text.Transition(ToolRunning))
}

func TestPartJSON(t *testing.T) {
	t.Run("should map legacy result state to output-available", func(t *testing.T) {
		var p Part
		require.NoError(t, json.Unmarshal([]byte(`{"type":"tool-news","toolCallId":"c1","state":"result","output":[]}`), &p))
		assert.Equal(t, ToolOutputAvailable, p.State)
		assert.JSONEq(t, `[]`, string(p.Output))
	})

	t.Run("should preserve unknown part types verbatim", func(t *testing.T) {
		raw := `{"type":"step-start","extra":{"n":1}}`
		var p Part
		require.NoError(t, json.Unmarshal([]byte(raw), &p))
		assert.False(t, p.IsKnown())

		out, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, raw, string(out))
	})

	t.Run("should encode tool parts with wire field names", func(t *testing.T) {
		p := ToolPart("changelog", "c2", json.RawMessage(`{"topic":"react"}`))
		out, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"tool-changelog","toolCallId":"c2","state":"pending","input":{"topic":"react"}}`, string(out))
	})
}

func TestSanitize(t *testing.T) {
	user1 := NewUserMessage("news about SpaceX")
	cancelled := Message{
		ID:   "a1",
		Role: RoleAssistant,
		Parts: []Part{
			{Type: "tool-news", ToolCallID: "c1", State: ToolRunning, Input: json.RawMessage(`{"query":"SpaceX"}`)},
		},
	}
	user2 := Message{ID: "u2", Role: RoleUser, Parts: []Part{ReasoningPart("scratch")}}
	answered := Message{
		ID:   "a2",
		Role: RoleAssistant,
		Parts: []Part{
			ReasoningPart("thinking"),
			TextPart("Here is the weather."),
		},
	}
	failedTool := Message{
		ID:    "a3",
		Role:  RoleAssistant,
		Parts: []Part{{Type: "tool-weather", ToolCallID: "c3", State: ToolError, ErrorText: "timeout"}},
	}
	whitespace := Message{ID: "a4", Role: RoleAssistant, Parts: []Part{TextPart("  \n")}}
	toolDone := Message{
		ID:    "a5",
		Role:  RoleAssistant,
		Parts: []Part{{Type: "tool-weather", ToolCallID: "c5", State: ToolOutputAvailable, Output: json.RawMessage(`{}`)}},
	}

	history := []Message{user1, cancelled, user2, answered, failedTool, whitespace, toolDone}
	out := Sanitize(history)

	ids := make([]string, 0, len(out))
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{user1.ID, "u2", "a2", "a5"}, ids)

	t.Run("should strip reasoning from every role", func(t *testing.T) {
		for _, m := range out {
			for _, p := range m.Parts {
				assert.False(t, p.IsReasoning())
			}
		}
		assert.Empty(t, out[1].Parts)
	})

	t.Run("should not modify the input", func(t *testing.T) {
		assert.Len(t, history, 7)
		assert.Len(t, history[3].Parts, 2)
	})
}

func TestDisplayState(t *testing.T) {
	running := Part{Type: "tool-news", State: ToolRunning}
	pending := Part{Type: "tool-news", State: ToolPending}

	assert.Equal(t, DisplayActive, DisplayState(running, true))
	assert.Equal(t, DisplayInterrupted, DisplayState(running, false))
	assert.Equal(t, DisplayInterrupted, DisplayState(pending, false))
	assert.Equal(t, DisplayDone, DisplayState(Part{Type: "tool-news", State: ToolOutputAvailable}, false))
	assert.Equal(t, DisplayFailed, DisplayState(Part{Type: "tool-news", State: ToolError}, true))
}

func TestMessageHelpers(t *testing.T) {
	m := NewAssistantMessage("")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, RoleAssistant, m.Role)

	m.Parts = append(m.Parts, TextPart("Hello "), ToolPart("weather", "c1", nil), TextPart("world"))
	assert.Equal(t, "Hello world", m.Text())
	assert.Equal(t, 1, m.ToolPart("c1"))
	assert.Equal(t, -1, m.ToolPart("missing"))

	clone := m.Clone()
	clone.Parts[0].Text = "changed"
	assert.Equal(t, "Hello ", m.Parts[0].Text)

	assert.True(t, IsLastMessage([]Message{m}, m.ID))
	assert.False(t, IsLastMessage(nil, m.ID))
}
