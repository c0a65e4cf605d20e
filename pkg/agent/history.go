package agent

import (
	"encoding/json"
	"strings"

	"github.com/harun/briefing/pkg/conversation"
)

// buildMessages converts sanitized conversation history into provider
// messages. Within an assistant message, a terminal tool part closes the
// assistant turn it belongs to and is followed by its result. Tool parts
// that never reached a terminal state are left out, since a call without
// a result is not valid provider input.
func buildMessages(history []conversation.Message) []AgentMessage {
	out := make([]AgentMessage, 0, len(history)*2)

	for _, msg := range history {
		switch msg.Role {
		case conversation.RoleUser:
			if text := msg.Text(); strings.TrimSpace(text) != "" {
				out = append(out, AgentMessage{Role: "user", Content: text})
			}

		case conversation.RoleAssistant:
			var cur AgentMessage
			open := false
			flush := func() {
				if open && (cur.Content != "" || len(cur.ToolCalls) > 0) {
					out = append(out, cur)
				}
				cur = AgentMessage{}
				open = false
			}

			for _, p := range msg.Parts {
				switch {
				case p.IsText():
					if !open {
						cur = AgentMessage{Role: "assistant"}
						open = true
					}
					cur.Content += p.Text

				case p.IsTool() && p.State.Terminal():
					if !open {
						cur = AgentMessage{Role: "assistant"}
						open = true
					}
					cur.ToolCalls = append(cur.ToolCalls, ToolCall{
						ID:    p.ToolCallID,
						Name:  p.ToolName(),
						Input: normalizeInput(p.Input),
					})
					flush()
					out = append(out, toolResultMessage(p))
				}
			}
			flush()
		}
	}
	return out
}

func toolResultMessage(p conversation.Part) AgentMessage {
	if p.State == conversation.ToolError {
		data, _ := json.Marshal(map[string]string{"error": p.ErrorText})
		return AgentMessage{Role: "tool", ToolCallID: p.ToolCallID, Content: string(data), IsError: true}
	}
	content := string(p.Output)
	if content == "" {
		content = "null"
	}
	return AgentMessage{Role: "tool", ToolCallID: p.ToolCallID, Content: content}
}

// normalizeInput returns input as a JSON value, wrapping anything that is
// not valid JSON as a string.
func normalizeInput(input json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	data, _ := json.Marshal(trimmed)
	return data
}
