package toolexecutor

import "context"

// CallInfo identifies the tool call a handler is serving.
type CallInfo struct {
	ChatID     string
	ToolCallID string
}

type callInfoKey struct{}

// ContextWithCallInfo attaches call identity for handlers and audit records.
func ContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the call identity, if any.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	if ctx == nil {
		return CallInfo{}, false
	}
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
