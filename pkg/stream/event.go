package stream

import (
	"encoding/json"

	"github.com/harun/briefing/pkg/conversation"
)

// EventType discriminates stream events.
type EventType string

const (
	EventStart               EventType = "start"
	EventStartStep           EventType = "start-step"
	EventTextStart           EventType = "text-start"
	EventTextDelta           EventType = "text-delta"
	EventTextEnd             EventType = "text-end"
	EventReasoningDelta      EventType = "reasoning-delta"
	EventToolInputAvailable  EventType = "tool-input-available"
	EventToolRunning         EventType = "tool-running"
	EventToolOutputAvailable EventType = "tool-output-available"
	EventToolOutputError     EventType = "tool-output-error"
	EventFinishStep          EventType = "finish-step"
	EventFinish              EventType = "finish"
	EventAbort               EventType = "abort"
	EventError               EventType = "error"
)

// Event is one element of an invocation's output. Seq is assigned by the
// Multiplexer and strictly increases within an invocation.
type Event struct {
	Seq          uint64          `json:"seq,omitempty"`
	Type         EventType       `json:"type"`
	MessageID    string          `json:"messageId,omitempty"`
	ID           string          `json:"id,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorText    string          `json:"errorText,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
}

// IsTool reports whether e belongs to a tool part's lifecycle.
func (e Event) IsTool() bool {
	switch e.Type {
	case EventToolInputAvailable, EventToolRunning, EventToolOutputAvailable, EventToolOutputError:
		return true
	}
	return false
}

// ToolState maps a tool event to the part state it produces.
func (e Event) ToolState() (conversation.ToolState, bool) {
	switch e.Type {
	case EventToolInputAvailable:
		return conversation.ToolPending, true
	case EventToolRunning:
		return conversation.ToolRunning, true
	case EventToolOutputAvailable:
		return conversation.ToolOutputAvailable, true
	case EventToolOutputError:
		return conversation.ToolError, true
	}
	return "", false
}

func Start(messageID string) Event { return Event{Type: EventStart, MessageID: messageID} }

func StartStep() Event { return Event{Type: EventStartStep} }

func TextStart(id string) Event { return Event{Type: EventTextStart, ID: id} }

func TextDelta(id, delta string) Event { return Event{Type: EventTextDelta, ID: id, Delta: delta} }

func TextEnd(id string) Event { return Event{Type: EventTextEnd, ID: id} }

func ReasoningDelta(id, delta string) Event {
	return Event{Type: EventReasoningDelta, ID: id, Delta: delta}
}

func ToolInputAvailable(toolCallID, toolName string, input json.RawMessage) Event {
	return Event{Type: EventToolInputAvailable, ToolCallID: toolCallID, ToolName: toolName, Input: input}
}

func ToolRunning(toolCallID string) Event {
	return Event{Type: EventToolRunning, ToolCallID: toolCallID}
}

func ToolOutputAvailable(toolCallID string, output json.RawMessage) Event {
	return Event{Type: EventToolOutputAvailable, ToolCallID: toolCallID, Output: output}
}

func ToolOutputError(toolCallID, errorText string) Event {
	return Event{Type: EventToolOutputError, ToolCallID: toolCallID, ErrorText: errorText}
}

func FinishStep() Event { return Event{Type: EventFinishStep} }

func Finish(reason string) Event { return Event{Type: EventFinish, FinishReason: reason} }

func Abort() Event { return Event{Type: EventAbort} }

func Error(text string) Event { return Event{Type: EventError, ErrorText: text} }
