package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriter(t *testing.T) {
	t.Run("should set headers and write data frames", func(t *testing.T) {
		rec := httptest.NewRecorder()
		w := NewSSEWriter(rec)

		require.NoError(t, w.Send(TextDelta("t1", "hi")))
		require.NoError(t, w.Done())

		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "data: {\"type\":\"text-delta\",\"id\":\"t1\",\"delta\":\"hi\"}\n\ndata: [DONE]\n\n", rec.Body.String())
		assert.True(t, rec.Flushed)
	})

	t.Run("should write heartbeat comments", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewSSEWriterTo(&buf).Heartbeat())
		assert.True(t, strings.HasPrefix(buf.String(), ": ping "))
		assert.True(t, strings.HasSuffix(buf.String(), "\n\n"))
	})
}

func TestSSEReader(t *testing.T) {
	t.Run("should round trip writer output", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewSSEWriterTo(&buf)
		require.NoError(t, w.Send(ToolInputAvailable("c1", "weather", json.RawMessage(`{"location":"Oslo"}`))))
		require.NoError(t, w.Heartbeat())
		require.NoError(t, w.Send(ToolOutputError("c1", "boom")))
		require.NoError(t, w.Done())

		r := NewSSEReader(&buf)
		first, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, EventToolInputAvailable, first.Type)
		assert.JSONEq(t, `{"location":"Oslo"}`, string(first.Input))

		second, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "boom", second.ErrorText)

		_, err = r.Next()
		assert.True(t, IsEndOfStream(err))
	})

	t.Run("should join multi-line data and skip other fields", func(t *testing.T) {
		body := "event: message\nid: 7\ndata: {\"type\":\n" + "data: \"finish\"}\n\n"
		ev, err := NewSSEReader(strings.NewReader(body)).Next()
		require.NoError(t, err)
		assert.Equal(t, EventFinish, ev.Type)
	})

	t.Run("should report a truncated stream", func(t *testing.T) {
		_, err := NewSSEReader(strings.NewReader(": ping\n\n")).Next()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("should fail on malformed json", func(t *testing.T) {
		_, err := NewSSEReader(strings.NewReader("data: {nope\n\n")).Next()
		assert.Error(t, err)
		assert.False(t, IsEndOfStream(err))
	})
}
