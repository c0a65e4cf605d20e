// Package conversation defines the message and part model shared by the
// server runner, the stream assembler, persistence and the client store.
//
// Invariants:
// - A tool part moves pending -> running -> output-available | error, one step at a time.
// - Reasoning parts never leave the process that produced them (Sanitize strips them).
// - Part types the package does not know are decoded, kept and re-encoded verbatim.
//
// Usage:
//
//	msg := conversation.NewUserMessage("What's new in React?")
//	history := conversation.Sanitize(append(stored, msg))
package conversation
