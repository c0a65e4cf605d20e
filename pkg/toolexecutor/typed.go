package toolexecutor

import "context"

// Typed adapts a handler over a concrete input struct. The struct's json
// tags must match the declared parameter names.
func Typed[In any, Out any](fn func(ctx context.Context, in In) (Out, error)) ToolHandler {
	return func(ctx context.Context, input ValidatedInput) (interface{}, error) {
		var in In
		if err := input.Decode(&in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}
