package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		shutdown, err := Setup(Config{})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("spans seed the request trace id", func(t *testing.T) {
		shutdown, err := Setup(Config{Enabled: true, SampleRatio: 5})
		require.NoError(t, err)
		defer func() { _ = shutdown(context.Background()) }()

		ctx, span := StartSpan(WithChatID(context.Background(), "chat-1"), "test", "op")
		defer span.End()

		require.True(t, span.SpanContext().IsValid())
		assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
		assert.Equal(t, "chat-1", GetChatID(ctx))
	})

	t.Run("an existing trace id is kept", func(t *testing.T) {
		ctx, span := StartSpan(WithTraceID(context.Background(), "req-1"), "test", "op")
		defer span.End()
		assert.Equal(t, "req-1", GetTraceID(ctx))
	})
}

func TestRecordError(t *testing.T) {
	_, span := StartSpan(context.Background(), "test", "op")
	defer span.End()

	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
}
