package tracing

import (
	"context"

	"github.com/google/uuid"
)

// Fields are the correlation ids carried through a request. A context holds
// one immutable Fields value; the With helpers store an updated copy.
type Fields struct {
	TraceID string
	RunID   string // one model invocation
	ChatID  string
	Model   string
}

type fieldsKey struct{}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.NewString()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.NewString()
}

// FromContext returns the fields stored in ctx, zero when there are none.
func FromContext(ctx context.Context) Fields {
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// NewContext stores f in ctx, replacing any fields already there.
func NewContext(ctx context.Context, f Fields) context.Context {
	return context.WithValue(ctx, fieldsKey{}, f)
}

func update(ctx context.Context, set func(*Fields)) context.Context {
	f := FromContext(ctx)
	set(&f)
	return NewContext(ctx, f)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *Fields) { f.TraceID = id })
}

func WithRunID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *Fields) { f.RunID = id })
}

func WithChatID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *Fields) { f.ChatID = id })
}

func WithModel(ctx context.Context, model string) context.Context {
	return update(ctx, func(f *Fields) { f.Model = model })
}

func GetTraceID(ctx context.Context) string { return FromContext(ctx).TraceID }
func GetRunID(ctx context.Context) string   { return FromContext(ctx).RunID }
func GetChatID(ctx context.Context) string  { return FromContext(ctx).ChatID }

// NewRequestContext starts a trace for an incoming request.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewInvocationContext scopes ctx to one invocation of chatID. The request's
// trace id is kept; a fresh one is created when absent.
func NewInvocationContext(ctx context.Context, chatID, model string) context.Context {
	return update(ctx, func(f *Fields) {
		if f.TraceID == "" {
			f.TraceID = NewTraceID()
		}
		f.RunID = NewRunID()
		f.ChatID = chatID
		f.Model = model
	})
}
