package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/pkg/conversation"
)

var (
	ErrClosed          = errors.New("stream closed")
	ErrFinished        = errors.New("stream already finished")
	ErrToolBusy        = errors.New("another tool call is still in flight")
	ErrUnknownToolCall = errors.New("unknown tool call")
	ErrWrongSource     = errors.New("event not accepted from this source")
)

// Source identifies which task produced an event.
type Source string

const (
	SourceModel Source = "model"
	SourceTool  Source = "tool"
)

// Multiplexer serializes events from the generation task and the tool task
// onto one channel. Every accepted event gets the next sequence number and
// is on the channel before Emit returns, so the channel order is the order
// in which Emit calls were accepted.
type Multiplexer struct {
	mu       sync.Mutex
	out      chan Event
	done     chan struct{}
	doneOnce sync.Once
	closed   bool
	reason   string

	seq      uint64
	finished bool
	tools    map[string]conversation.ToolState
	active   string

	observers []func(Event)
}

// NewMultiplexer creates a multiplexer whose output holds up to buffer
// undelivered events.
func NewMultiplexer(buffer int) *Multiplexer {
	if buffer < 0 {
		buffer = 0
	}
	return &Multiplexer{
		out:   make(chan Event, buffer),
		done:  make(chan struct{}),
		tools: make(map[string]conversation.ToolState),
	}
}

// Events is the ordered output. It is closed by Close.
func (m *Multiplexer) Events() <-chan Event {
	return m.out
}

// Done is closed as soon as Close is called.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// EmitModel emits an event from the generation task.
func (m *Multiplexer) EmitModel(ctx context.Context, ev Event) error {
	return m.emit(ctx, SourceModel, ev)
}

// EmitTool emits a running or terminal event from the tool task.
func (m *Multiplexer) EmitTool(ctx context.Context, ev Event) error {
	return m.emit(ctx, SourceTool, ev)
}

// ToolState returns the last accepted state of a tool call.
func (m *Multiplexer) ToolState(toolCallID string) (conversation.ToolState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tools[toolCallID]
	return s, ok
}

// Observe registers fn to see every accepted event in channel order. fn
// runs with the multiplexer locked and must not emit.
func (m *Multiplexer) Observe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Close stops the stream. Pending and future emits fail with ErrClosed and
// the output channel is closed. Only the first reason is kept.
func (m *Multiplexer) Close(reason string) {
	m.doneOnce.Do(func() {
		close(m.done)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.reason = reason
	close(m.out)
}

// Reason returns the reason passed to Close.
func (m *Multiplexer) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func (m *Multiplexer) emit(ctx context.Context, src Source, ev Event) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	next, err := m.check(src, ev)
	if err != nil {
		return err
	}

	ev.Seq = m.seq + 1
	select {
	case m.out <- ev:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	m.seq = ev.Seq
	m.commit(ev, next)
	for _, fn := range m.observers {
		fn(ev)
	}
	observability.RecordStreamEvent(string(ev.Type))
	return nil
}

// check validates ev against the current state without changing it.
func (m *Multiplexer) check(src Source, ev Event) (conversation.ToolState, error) {
	if m.finished {
		return "", fmt.Errorf("%w: %s", ErrFinished, ev.Type)
	}

	switch ev.Type {
	case EventToolRunning, EventToolOutputAvailable, EventToolOutputError:
		if src != SourceTool {
			return "", fmt.Errorf("%w: %s from %s", ErrWrongSource, ev.Type, src)
		}
	default:
		if src != SourceModel {
			return "", fmt.Errorf("%w: %s from %s", ErrWrongSource, ev.Type, src)
		}
	}

	to, isTool := ev.ToolState()
	if !isTool {
		return "", nil
	}
	if ev.ToolCallID == "" {
		return "", fmt.Errorf("%w: empty tool call id", ErrUnknownToolCall)
	}

	from, known := m.tools[ev.ToolCallID]
	if to == conversation.ToolPending {
		if known {
			return "", fmt.Errorf("%w: %s already started", conversation.ErrInvalidToolTransition, ev.ToolCallID)
		}
		if m.active != "" {
			return "", fmt.Errorf("%w: %s", ErrToolBusy, m.active)
		}
		return to, nil
	}

	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownToolCall, ev.ToolCallID)
	}
	if err := conversation.Advance(from, to); err != nil {
		return "", err
	}
	return to, nil
}

func (m *Multiplexer) commit(ev Event, state conversation.ToolState) {
	if ev.Type == EventFinish {
		m.finished = true
	}
	if state == "" {
		return
	}
	m.tools[ev.ToolCallID] = state
	switch {
	case state == conversation.ToolPending:
		m.active = ev.ToolCallID
	case state.Terminal() && m.active == ev.ToolCallID:
		m.active = ""
	}
}
