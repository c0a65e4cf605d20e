// Package session persists conversations as JSONL files, one message per
// line.
//
// Invariants:
//   - Chat ids are validated and path-safe.
//   - Writes for the same chat are serialized and replace the file atomically.
//   - Messages round-trip unchanged, including tool parts frozen in a
//     non-terminal state.
//
// Usage:
//
//	mgr, _ := session.New("/tmp/briefing/sessions")
//	_ = mgr.SaveConversation(ctx, "chat-1", messages)
//	stored, _ := mgr.LoadConversation(ctx, "chat-1")
//	_ = stored
package session
