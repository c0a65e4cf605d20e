// Package stream carries one invocation's output from the runner to its
// consumers.
//
// A Multiplexer merges the generation task and the tool task into a single
// ordered channel and refuses events that would break a tool part's
// lifecycle. An Assembler folds that channel back into a
// conversation.Message; the server uses it for persistence and the client
// store for rendering. SSEWriter and SSEReader put events on the wire.
package stream
