package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/stream"
	"github.com/rs/zerolog"
)

// Status is the lifecycle of the store's current request.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Busy reports whether a request is in flight.
func (s Status) Busy() bool {
	return s == StatusSubmitted || s == StatusStreaming
}

var (
	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("a request is already in flight")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// Config configures a Store.
type Config struct {
	// ChatID identifies the conversation on the service. A new id is
	// generated when empty.
	ChatID    string
	Model     string
	Transport Transport
	Logger    zerolog.Logger
	// OnEvent, when set, sees every applied event. It runs on the
	// transport's goroutine after the store has been updated.
	OnEvent func(stream.Event)
}

// Store mirrors one conversation on the client side. It applies stream
// events to the local messages and keeps the request status.
type Store struct {
	chatID    string
	model     string
	transport Transport
	logger    zerolog.Logger
	onEvent   func(stream.Event)

	mu       sync.Mutex
	messages []conversation.Message
	status   Status
	err      error
	cancel   context.CancelFunc
	stopped  bool
	asm      *stream.Assembler
	// pending is the article a summarize request was sent for, until the
	// tool part for it shows up.
	pending *Article
}

// New creates a store.
func New(cfg Config) (*Store, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	chatID := cfg.ChatID
	if chatID == "" {
		chatID = conversation.NewID()
	}
	return &Store{
		chatID:    chatID,
		model:     cfg.Model,
		transport: cfg.Transport,
		logger:    cfg.Logger.With().Str("chat_id", chatID).Logger(),
		onEvent:   cfg.OnEvent,
		status:    StatusIdle,
	}, nil
}

// ChatID returns the conversation id.
func (s *Store) ChatID() string { return s.chatID }

// Status returns the current status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error of the last request when its status is error.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Messages returns a copy of the conversation.
func (s *Store) Messages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

// SetModel changes the model used for later requests.
func (s *Store) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Send appends a user message and streams the reply. It blocks until the
// reply ends, fails or is stopped; a stopped request returns nil with
// status cancelled.
func (s *Store) Send(ctx context.Context, text string) error {
	return s.send(ctx, text, nil)
}

// Summarize asks for a summary of article in the given style.
func (s *Store) Summarize(ctx context.Context, article Article, style SummaryStyle) error {
	text, err := SummaryRequest(article, style)
	if err != nil {
		return err
	}
	return s.send(ctx, text, &article)
}

func (s *Store) send(ctx context.Context, text string, article *Article) error {
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.status.Busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	s.messages = append(s.messages, conversation.NewUserMessage(text))
	s.status = StatusSubmitted
	s.err = nil
	s.stopped = false
	s.asm = nil
	s.pending = article
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	req := Request{
		ChatID:   s.chatID,
		Messages: conversation.Sanitize(s.messages),
		Model:    s.model,
	}
	s.mu.Unlock()
	defer cancel()

	s.logger.Debug().Int("messages", len(req.Messages)).Msg("Sending request")
	err := s.transport.Send(ctx, req, s.apply)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	s.pending = nil

	switch {
	case s.stopped:
		s.status = StatusCancelled
		return nil
	case err != nil:
		s.status = StatusError
		s.err = err
		s.logger.Warn().Err(err).Msg("Request failed")
		return err
	case s.status.Busy():
		// The stream closed without finish, error or abort.
		s.status = StatusError
		s.err = errors.New("stream ended unexpectedly")
		return s.err
	}
	if s.status == StatusError {
		return s.err
	}
	return nil
}

// apply folds one event into the conversation.
func (s *Store) apply(ev stream.Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	switch ev.Type {
	case stream.EventFinish:
		s.status = StatusFinished
	case stream.EventAbort:
		s.status = StatusCancelled
	case stream.EventError:
		s.status = StatusError
		s.err = errors.New(ev.ErrorText)
	default:
		if s.status == StatusSubmitted {
			s.status = StatusStreaming
		}
	}

	if s.asm == nil && ev.Type != stream.EventError {
		s.asm = stream.NewAssembler(conversation.NewID())
		s.messages = append(s.messages, s.asm.Message())
	}
	if s.asm != nil {
		if err := s.asm.Apply(ev); err != nil {
			s.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Ignoring event")
		}
		s.messages[len(s.messages)-1] = s.asm.Message()
	}
	s.mu.Unlock()

	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// Stop cancels the request in flight. Tool parts keep the state they had;
// nothing received afterwards is applied. It reports whether a request was
// running.
func (s *Store) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Busy() || s.cancel == nil {
		return false
	}
	s.stopped = true
	s.status = StatusCancelled
	s.cancel()
	s.logger.Info().Msg("Request stopped")
	return true
}

// Replay replaces the conversation with stored messages, for example the
// history of a chat loaded from the service.
func (s *Store) Replay(messages []conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Busy() {
		return ErrBusy
	}
	s.messages = cloneMessages(messages)
	s.status = StatusIdle
	s.err = nil
	s.asm = nil
	return nil
}

// ToolDisplay returns how a tool part of the message messageID should be
// shown right now. Only the trailing message can still be in flight.
func (s *Store) ToolDisplay(messageID string, p conversation.Part) conversation.Display {
	s.mu.Lock()
	busy := s.status.Busy() && conversation.IsLastMessage(s.messages, messageID)
	s.mu.Unlock()
	return conversation.DisplayState(p, busy)
}

func cloneMessages(in []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
