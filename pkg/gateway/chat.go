package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/agent"
	"github.com/harun/briefing/pkg/session"
	"github.com/harun/briefing/pkg/stream"
)

// ChatIDHeader echoes the chat id, which the server assigns when the
// request has none.
const ChatIDHeader = "X-Briefing-Chat-Id"

// handleChat starts an invocation and streams its events as SSE. A client
// that disconnects cancels the invocation.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	var req agent.InvocationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	limiter := s.limiters.get(r.RemoteAddr)
	if ok, reason := limiter.Acquire(); !ok {
		writeError(w, http.StatusTooManyRequests, reason)
		return
	}
	defer limiter.Release()

	ctx := r.Context()
	inv, err := s.runner.Stream(ctx, req)
	if err != nil {
		writeError(w, invocationErrorStatus(err), err.Error())
		return
	}
	s.inFlight.Add(1)
	defer s.inFlight.Done()

	logger := tracing.LoggerFromContext(invocationContext(ctx, inv), s.logger)

	w.Header().Set(ChatIDHeader, inv.ChatID)
	sse := stream.NewSSEWriter(w)
	w.WriteHeader(http.StatusOK)

	err = forward(ctx, inv, sse.Send, sse.Heartbeat, s.heartbeat)
	if err == nil {
		err = sse.Done()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("Event stream interrupted")
	}
}

// invocationContext tags ctx with the ids of inv for logging.
func invocationContext(ctx context.Context, inv *agent.Invocation) context.Context {
	ctx = tracing.WithChatID(ctx, inv.ChatID)
	ctx = tracing.WithRunID(ctx, inv.RunID)
	return tracing.WithModel(ctx, inv.Model)
}

// forward relays the events of inv until it ends. A cancelled invocation
// is closed with an abort event.
func forward(ctx context.Context, inv *agent.Invocation, send func(stream.Event) error, heartbeat func() error, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	events := inv.Events()
	for {
		select {
		case <-ctx.Done():
			inv.Cancel()
			return ctx.Err()
		case <-tick:
			if err := heartbeat(); err != nil {
				inv.Cancel()
				return err
			}
		case ev, ok := <-events:
			if !ok {
				if inv.Wait().State == agent.StateCancelled {
					return send(stream.Abort())
				}
				return nil
			}
			if err := send(ev); err != nil {
				inv.Cancel()
				return err
			}
		}
	}
}

func invocationErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidChatID), errors.Is(err, agent.ErrEmptyConversation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := session.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	aborted := s.runner.Abort(chatID)
	tracing.LoggerFromContext(r.Context(), s.logger).Info().
		Str("chat_id", chatID).
		Bool("aborted", aborted).
		Msg("Stop requested")
	writeJSON(w, http.StatusOK, StopResponse{ChatID: chatID, Aborted: aborted})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := session.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := s.runner.History(r.Context(), chatID)
	if err != nil {
		tracing.LoggerFromContext(r.Context(), s.logger).Error().Err(err).Str("chat_id", chatID).Msg("Failed to load conversation")
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		ChatID:   chatID,
		Messages: messages,
		Running:  s.runner.IsRunning(chatID),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.executor.Definitions(),
	})
}
