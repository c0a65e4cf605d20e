package stream

import (
	"fmt"

	"github.com/harun/briefing/pkg/conversation"
)

// Assembler folds events into the assistant message they describe. It is
// not safe for concurrent use.
type Assembler struct {
	msg       conversation.Message
	text      map[string]int
	reasoning map[string]int
}

// NewAssembler starts an empty assistant message. A start event with a
// message id replaces messageID.
func NewAssembler(messageID string) *Assembler {
	return &Assembler{
		msg:       conversation.NewAssistantMessage(messageID),
		text:      make(map[string]int),
		reasoning: make(map[string]int),
	}
}

// Resume continues assembling onto an existing message.
func Resume(msg conversation.Message) *Assembler {
	a := &Assembler{
		msg:       msg.Clone(),
		text:      make(map[string]int),
		reasoning: make(map[string]int),
	}
	return a
}

// Apply folds one event. Tool events that would break the part lifecycle
// are rejected and leave the message unchanged.
func (a *Assembler) Apply(ev Event) error {
	switch ev.Type {
	case EventStart:
		if ev.MessageID != "" {
			a.msg.ID = ev.MessageID
		}

	case EventTextStart:
		a.textPart(ev.ID)

	case EventTextDelta:
		i := a.textPart(ev.ID)
		a.msg.Parts[i].Text += ev.Delta

	case EventReasoningDelta:
		i, ok := a.reasoning[ev.ID]
		if !ok {
			a.msg.Parts = append(a.msg.Parts, conversation.ReasoningPart(""))
			i = len(a.msg.Parts) - 1
			a.reasoning[ev.ID] = i
		}
		a.msg.Parts[i].Text += ev.Delta

	case EventToolInputAvailable:
		if a.msg.ToolPart(ev.ToolCallID) >= 0 {
			return fmt.Errorf("%w: %s already present", conversation.ErrInvalidToolTransition, ev.ToolCallID)
		}
		a.msg.Parts = append(a.msg.Parts, conversation.ToolPart(ev.ToolName, ev.ToolCallID, ev.Input))

	case EventToolRunning, EventToolOutputAvailable, EventToolOutputError:
		i := a.msg.ToolPart(ev.ToolCallID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, ev.ToolCallID)
		}
		to, _ := ev.ToolState()
		part := &a.msg.Parts[i]
		if err := part.Transition(to); err != nil {
			return err
		}
		switch ev.Type {
		case EventToolOutputAvailable:
			part.Output = ev.Output
		case EventToolOutputError:
			part.ErrorText = ev.ErrorText
		}
	}
	return nil
}

// Message returns a copy of the message assembled so far.
func (a *Assembler) Message() conversation.Message {
	return a.msg.Clone()
}

func (a *Assembler) textPart(id string) int {
	if i, ok := a.text[id]; ok {
		return i
	}
	a.msg.Parts = append(a.msg.Parts, conversation.TextPart(""))
	i := len(a.msg.Parts) - 1
	a.text[id] = i
	return i
}
