package conversation

// Display is how a renderer should present a tool part.
type Display string

const (
	DisplayActive      Display = "active"
	DisplayDone        Display = "done"
	DisplayFailed      Display = "failed"
	DisplayInterrupted Display = "interrupted"
)

// DisplayState derives a tool part's presentation from stored state alone.
// busy is whether the owning session still has an invocation in flight: a
// non-terminal part is active while busy and interrupted once it is not.
func DisplayState(p Part, busy bool) Display {
	switch p.State {
	case ToolOutputAvailable:
		return DisplayDone
	case ToolError:
		return DisplayFailed
	}
	if busy {
		return DisplayActive
	}
	return DisplayInterrupted
}

// IsLastMessage is a helper for renderers that only treat the trailing
// assistant message as possibly in flight.
func IsLastMessage(messages []Message, id string) bool {
	return len(messages) > 0 && messages[len(messages)-1].ID == id
}
