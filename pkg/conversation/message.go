package conversation

import (
	"encoding/json"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry.
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewID returns a short random identifier for messages and tool calls.
func NewID() string {
	id, err := gonanoid.New(16)
	if err != nil {
		// gonanoid only fails when the system random source is broken.
		panic(err)
	}
	return id
}

// NewUserMessage returns a user message with a single text part.
func NewUserMessage(text string) Message {
	return Message{
		ID:    NewID(),
		Role:  RoleUser,
		Parts: []Part{TextPart(text)},
	}
}

// NewAssistantMessage returns an empty assistant message.
func NewAssistantMessage(id string) Message {
	if id == "" {
		id = NewID()
	}
	return Message{ID: id, Role: RoleAssistant, Parts: []Part{}}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := Message{ID: m.ID, Role: m.Role, Parts: make([]Part, len(m.Parts))}
	for i, p := range m.Parts {
		out.Parts[i] = p.clone()
	}
	return out
}

func (p Part) clone() Part {
	c := p
	c.Input = cloneRaw(p.Input)
	c.Output = cloneRaw(p.Output)
	c.raw = cloneRaw(p.raw)
	return c
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.IsText() {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolPart returns the index of the tool part with the given call id, or -1.
func (m Message) ToolPart(toolCallID string) int {
	for i, p := range m.Parts {
		if p.IsTool() && p.ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// HasCompletedContent reports whether m has a non-empty text part or a tool
// part that reached output-available.
func (m Message) HasCompletedContent() bool {
	for _, p := range m.Parts {
		if p.IsText() && strings.TrimSpace(p.Text) != "" {
			return true
		}
		if p.IsTool() && p.State == ToolOutputAvailable {
			return true
		}
	}
	return false
}

// Sanitize prepares stored history for re-submission to a model. Reasoning
// parts are removed from every message. Assistant messages without completed
// content are dropped. User messages are always kept. The input is not
// modified.
func Sanitize(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		clean := Message{ID: m.ID, Role: m.Role, Parts: make([]Part, 0, len(m.Parts))}
		for _, p := range m.Parts {
			if p.IsReasoning() {
				continue
			}
			clean.Parts = append(clean.Parts, p.clone())
		}
		if clean.Role == RoleAssistant && !clean.HasCompletedContent() {
			continue
		}
		out = append(out, clean)
	}
	return out
}
