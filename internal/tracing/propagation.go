package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger returns logger with the non-empty ids of ctx attached.
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	f := FromContext(ctx)
	if f == (Fields{}) {
		return logger
	}

	lc := logger.With()
	for _, kv := range [...][2]string{
		{"trace_id", f.TraceID},
		{"run_id", f.RunID},
		{"chat_id", f.ChatID},
		{"model", f.Model},
	} {
		if kv[1] != "" {
			lc = lc.Str(kv[0], kv[1])
		}
	}
	return lc.Logger()
}

// LoggerFromContext returns a child of base carrying the ids of ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	logger := PropagateToLogger(ctx, base)
	return &logger
}

// Detach returns a background context with the same ids, for work that
// outlives a cancelled request such as saving a frozen conversation.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
