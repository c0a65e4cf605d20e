// Package toolexecutor registers the closed set of chat tools and executes
// model tool calls against them.
//
// Invariants:
// - Only names from AllToolNames can be registered, each exactly once.
// - A sealed registry holds every tool and accepts no further registration.
// - Input is schema-validated (no unknown or missing fields) before any handler runs.
// - Execute never returns a Go error; failures become a ToolError on the Result.
// - A CallBudget admits one tool call per invocation.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	_ = reg.Register(toolexecutor.ToolSpec{Name: toolexecutor.ToolWeather, ...})
//	exec := toolexecutor.New(reg, toolexecutor.WithDefaultTimeout(30*time.Second))
//	res := exec.Run(ctx, toolexecutor.ToolCallRequest{ToolName: "weather", Input: raw})
package toolexecutor
