// Package agent runs one model invocation per chat request: it streams model
// output, executes at most one tool call and lets the model synthesize a
// reply from the result.
//
// Invariants:
//   - Invocations are serialized per chat through commandqueue.
//   - An invocation takes at most MaxSteps model steps; only the first may call a tool.
//   - At most one tool call executes per invocation. Further requests are dropped.
//   - After cancellation no event is emitted and in-flight tool parts keep
//     their last emitted state.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	inv, _ := runner.Stream(ctx, agent.InvocationRequest{
//		ChatID:   "chat-1",
//		Messages: history,
//		Model:    "openai/gpt-4.1-nano",
//	})
//	for ev := range inv.Events() {
//		_ = ev
//	}
//	result := inv.Wait()
package agent
