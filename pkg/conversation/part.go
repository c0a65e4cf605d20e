package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Part type discriminators. Tool parts use ToolPartPrefix + tool name.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	ToolPartPrefix = "tool-"
)

// ToolState is the lifecycle state of a tool call part.
type ToolState string

const (
	ToolPending         ToolState = "pending"
	ToolRunning         ToolState = "running"
	ToolOutputAvailable ToolState = "output-available"
	ToolError           ToolState = "error"

	// legacyResult is an older spelling of output-available found in stored history.
	legacyResult ToolState = "result"
)

// ErrInvalidToolTransition is returned for any state change other than
// pending->running, running->output-available or running->error.
var ErrInvalidToolTransition = errors.New("invalid tool state transition")

// Terminal reports whether no further transition is allowed.
func (s ToolState) Terminal() bool {
	return s == ToolOutputAvailable || s == ToolError
}

// Valid reports whether s is one of the four lifecycle states.
func (s ToolState) Valid() bool {
	switch s {
	case ToolPending, ToolRunning, ToolOutputAvailable, ToolError:
		return true
	}
	return false
}

// Advance validates a single lifecycle step.
func Advance(from, to ToolState) error {
	switch {
	case from == ToolPending && to == ToolRunning,
		from == ToolRunning && to == ToolOutputAvailable,
		from == ToolRunning && to == ToolError:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidToolTransition, from, to)
}

// Part is one element of a message. Which fields are meaningful depends on Type.
type Part struct {
	Type string `json:"type"`

	// text and reasoning
	Text string `json:"text,omitempty"`

	// tool-<name>
	ToolCallID string          `json:"toolCallId,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`

	raw json.RawMessage
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ReasoningPart returns a reasoning part.
func ReasoningPart(text string) Part {
	return Part{Type: PartReasoning, Text: text}
}

// ToolPart returns a pending tool call part.
func ToolPart(toolName, toolCallID string, input json.RawMessage) Part {
	return Part{
		Type:       ToolPartPrefix + toolName,
		ToolCallID: toolCallID,
		State:      ToolPending,
		Input:      input,
	}
}

// IsText reports whether p is a text part.
func (p Part) IsText() bool { return p.Type == PartText }

// IsReasoning reports whether p is a reasoning part.
func (p Part) IsReasoning() bool { return p.Type == PartReasoning }

// IsTool reports whether p is a tool call part.
func (p Part) IsTool() bool {
	return strings.HasPrefix(p.Type, ToolPartPrefix) && len(p.Type) > len(ToolPartPrefix)
}

// IsKnown reports whether the part type is one this package interprets.
func (p Part) IsKnown() bool {
	return p.IsText() || p.IsReasoning() || p.IsTool()
}

// ToolName returns the tool name of a tool part, or "".
func (p Part) ToolName() string {
	if !p.IsTool() {
		return ""
	}
	return strings.TrimPrefix(p.Type, ToolPartPrefix)
}

// Transition moves a tool part to the next state.
func (p *Part) Transition(to ToolState) error {
	if !p.IsTool() {
		return fmt.Errorf("part %q is not a tool part", p.Type)
	}
	if err := Advance(p.State, to); err != nil {
		return err
	}
	p.State = to
	return nil
}

type partAlias Part

// UnmarshalJSON keeps unknown part types verbatim and maps the legacy
// "result" state onto output-available.
func (p *Part) UnmarshalJSON(data []byte) error {
	var decoded partAlias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = Part(decoded)
	if !p.IsKnown() {
		p.raw = append(json.RawMessage(nil), data...)
		return nil
	}
	p.raw = nil
	if p.State == legacyResult {
		p.State = ToolOutputAvailable
	}
	return nil
}

// MarshalJSON writes unknown parts back exactly as they were read.
func (p Part) MarshalJSON() ([]byte, error) {
	if !p.IsKnown() && p.raw != nil {
		return p.raw, nil
	}
	return json.Marshal(partAlias(p))
}
