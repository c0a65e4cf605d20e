package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/harun/briefing/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(m *Multiplexer) []Event {
	var out []Event
	for ev := range m.Events() {
		out = append(out, ev)
	}
	return out
}

func TestMultiplexerToolLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("should accept the forward lifecycle and number events", func(t *testing.T) {
		m := NewMultiplexer(16)
		require.NoError(t, m.EmitModel(ctx, Start("msg-1")))
		require.NoError(t, m.EmitModel(ctx, ToolInputAvailable("call-1", "weather", json.RawMessage(`{"location":"Oslo"}`))))
		require.NoError(t, m.EmitTool(ctx, ToolRunning("call-1")))
		require.NoError(t, m.EmitTool(ctx, ToolOutputAvailable("call-1", json.RawMessage(`{"temperature":3}`))))
		require.NoError(t, m.EmitModel(ctx, Finish("stop")))
		m.Close("done")

		events := drain(m)
		require.Len(t, events, 5)
		for i, ev := range events {
			assert.Equal(t, uint64(i+1), ev.Seq)
		}
		state, ok := m.ToolState("call-1")
		assert.True(t, ok)
		assert.Equal(t, conversation.ToolOutputAvailable, state)
	})

	t.Run("should reject running after terminal", func(t *testing.T) {
		m := NewMultiplexer(16)
		require.NoError(t, m.EmitModel(ctx, ToolInputAvailable("call-1", "news", nil)))
		require.NoError(t, m.EmitTool(ctx, ToolRunning("call-1")))
		require.NoError(t, m.EmitTool(ctx, ToolOutputError("call-1", "boom")))

		err := m.EmitTool(ctx, ToolRunning("call-1"))
		assert.ErrorIs(t, err, conversation.ErrInvalidToolTransition)
	})

	t.Run("should reject skipping running", func(t *testing.T) {
		m := NewMultiplexer(16)
		require.NoError(t, m.EmitModel(ctx, ToolInputAvailable("call-1", "news", nil)))

		err := m.EmitTool(ctx, ToolOutputAvailable("call-1", json.RawMessage(`[]`)))
		assert.ErrorIs(t, err, conversation.ErrInvalidToolTransition)
	})

	t.Run("should reject tool events for unknown calls", func(t *testing.T) {
		m := NewMultiplexer(16)
		assert.ErrorIs(t, m.EmitTool(ctx, ToolRunning("nope")), ErrUnknownToolCall)
	})

	t.Run("should reject a second call while one is in flight", func(t *testing.T) {
		m := NewMultiplexer(16)
		require.NoError(t, m.EmitModel(ctx, ToolInputAvailable("call-1", "news", nil)))
		assert.ErrorIs(t, m.EmitModel(ctx, ToolInputAvailable("call-2", "weather", nil)), ErrToolBusy)

		require.NoError(t, m.EmitTool(ctx, ToolRunning("call-1")))
		require.NoError(t, m.EmitTool(ctx, ToolOutputAvailable("call-1", json.RawMessage(`[]`))))
		assert.NoError(t, m.EmitModel(ctx, ToolInputAvailable("call-2", "weather", nil)))
	})

	t.Run("should keep sources apart", func(t *testing.T) {
		m := NewMultiplexer(16)
		require.NoError(t, m.EmitModel(ctx, ToolInputAvailable("call-1", "news", nil)))
		assert.ErrorIs(t, m.EmitModel(ctx, ToolRunning("call-1")), ErrWrongSource)
		assert.ErrorIs(t, m.EmitTool(ctx, TextDelta("t", "hi")), ErrWrongSource)
	})
}

func TestMultiplexerFinishAndClose(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject text after finish", func(t *testing.T) {
		m := NewMultiplexer(8)
		require.NoError(t, m.EmitModel(ctx, Finish("stop")))
		assert.ErrorIs(t, m.EmitModel(ctx, TextDelta("t", "late")), ErrFinished)
	})

	t.Run("should fail emits after close", func(t *testing.T) {
		m := NewMultiplexer(8)
		m.Close("cancelled")
		m.Close("again")

		assert.ErrorIs(t, m.EmitModel(ctx, TextDelta("t", "x")), ErrClosed)
		assert.Equal(t, "cancelled", m.Reason())
		_, open := <-m.Events()
		assert.False(t, open)
	})

	t.Run("should release an emitter blocked on a full channel", func(t *testing.T) {
		m := NewMultiplexer(0)
		errCh := make(chan error, 1)
		go func() {
			errCh <- m.EmitModel(ctx, TextDelta("t", "blocked"))
		}()

		time.Sleep(20 * time.Millisecond)
		m.Close("cancelled")

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("emitter was not released")
		}
	})

	t.Run("should honour the caller context", func(t *testing.T) {
		m := NewMultiplexer(0)
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, m.EmitModel(cctx, TextDelta("t", "x")), context.DeadlineExceeded)
	})
}

func TestMultiplexerConcurrentSources(t *testing.T) {
	ctx := context.Background()
	m := NewMultiplexer(0)
	require.NoError(t, func() error {
		go func() { <-m.Events() }()
		return m.EmitModel(ctx, ToolInputAvailable("call-1", "news", nil))
	}())

	var collected []Event
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		collected = drain(m)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, m.EmitModel(ctx, TextDelta("t", "x")))
		}
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, m.EmitTool(ctx, ToolRunning("call-1")))
		assert.NoError(t, m.EmitTool(ctx, ToolOutputAvailable("call-1", json.RawMessage(`[]`))))
	}()
	wg.Wait()
	m.Close("done")
	<-readerDone

	require.Len(t, collected, 52)
	runningAt, terminalAt := -1, -1
	for i, ev := range collected {
		if i > 0 {
			assert.Greater(t, ev.Seq, collected[i-1].Seq)
		}
		switch ev.Type {
		case EventToolRunning:
			runningAt = i
		case EventToolOutputAvailable:
			terminalAt = i
		}
	}
	assert.Less(t, runningAt, terminalAt)
}

func TestMultiplexerObserve(t *testing.T) {
	ctx := context.Background()
	m := NewMultiplexer(8)
	asm := NewAssembler("msg-1")
	var seen []uint64
	m.Observe(func(ev Event) {
		seen = append(seen, ev.Seq)
		require.NoError(t, asm.Apply(ev))
	})

	require.NoError(t, m.EmitModel(ctx, TextStart("t1")))
	require.NoError(t, m.EmitModel(ctx, TextDelta("t1", "hel")))
	require.NoError(t, m.EmitModel(ctx, TextDelta("t1", "lo")))
	// Rejected events are not observed.
	assert.Error(t, m.EmitTool(ctx, ToolRunning("nope")))
	m.Close("done")

	assert.Equal(t, []uint64{1, 2, 3}, seen)
	assert.Equal(t, "hello", asm.Message().Text())
}
