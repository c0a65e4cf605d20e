package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/agent"
	"github.com/harun/briefing/pkg/stream"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// handleWebSocket upgrades the connection. A client that presents the
// secret header is authenticated right away; otherwise it must answer an
// HMAC challenge when a secret is configured.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	ctx, cancel := context.WithCancel(tracing.Detach(r.Context()))
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		RateLimiter:  s.limiters.get(r.RemoteAddr),
		State:        StateConnecting,
		ctx:          ctx,
		cancel:       cancel,
		streams:      make(map[string]*agent.Invocation),
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if !s.auth.Enabled() || s.auth.CheckSecret(r.Header.Get(SecretHeader)) {
		client.Authenticated = true
		client.State = StateAuthenticated
	} else if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to send auth challenge")
		s.dropClient(client)
		return
	}

	if s.heartbeat > 0 {
		go s.pingLoop(client)
	}
	go s.readLoop(client)
}

func (s *Server) sendAuthChallenge(client *Client) error {
	notice, err := s.auth.IssueChallenge(client)
	if err != nil {
		return err
	}
	return client.WriteJSON(notice)
}

func (s *Server) dropClient(client *Client) {
	client.cancel()
	client.stop("")
	_ = client.Conn.Close()
	client.State = StateDisconnected
	s.clients.Remove(client.ID)
}

func (s *Server) pingLoop(client *Client) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-client.ctx.Done():
			return
		case <-ticker.C:
			if err := client.ping(time.Now().Add(s.heartbeat)); err != nil {
				return
			}
		}
	}
}

// readLoop handles client frames until the connection closes. Closing the
// connection cancels the client's invocations.
func (s *Server) readLoop(client *Client) {
	defer func() {
		s.dropClient(client)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			return
		}
		s.clients.Touch(client.ID)

		if !s.handleFrame(client, message) {
			return
		}
	}
}

// handleFrame processes one frame and reports whether to keep reading.
func (s *Server) handleFrame(client *Client, message []byte) bool {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		_ = client.WriteJSON(Notice{Type: "error", Message: "invalid frame: " + err.Error()})
		return true
	}

	if frame.Type == FrameAuth {
		return s.handleAuthFrame(client, frame.Signature)
	}
	if !client.Authenticated {
		_ = client.WriteJSON(Notice{Type: "error", Message: "authentication required"})
		return true
	}

	switch frame.Type {
	case FrameChat:
		s.startStream(client, agent.InvocationRequest{
			ChatID:   frame.ChatID,
			Messages: frame.Messages,
			Model:    frame.Model,
		})
	case FrameStop:
		n := client.stop(frame.ChatID)
		s.logger.Info().Str("client_id", client.ID).Str("chat_id", frame.ChatID).Int("stopped", n).Msg("Stop requested")
	default:
		_ = client.WriteJSON(Notice{Type: "error", Message: "unknown frame type: " + frame.Type})
	}
	return true
}

func (s *Server) handleAuthFrame(client *Client, signature string) bool {
	result := s.auth.HandleAuthResponse(client, signature)
	if err := client.WriteJSON(result); err != nil {
		return false
	}

	if result.Type == "auth.success" {
		observability.RecordSecurityAudit(client.ctx, "ws_auth", client.IPAddress, "granted")
		s.logger.Info().Str("client_id", client.ID).Msg("Client authenticated")
		return true
	}

	if result.Type == "auth.challenge" {
		s.logger.Debug().Str("client_id", client.ID).Msg("Challenge expired, reissued")
	}
	observability.RecordAuthFailure()
	observability.RecordSecurityAudit(client.ctx, "ws_auth", client.IPAddress, "denied")
	s.logger.Warn().Str("client_id", client.ID).Str("reason", result.Message).Msg("Authentication failed")
	return client.AuthAttempts < maxAuthAttempts
}

// startStream runs one invocation and writes its events as frames.
func (s *Server) startStream(client *Client, req agent.InvocationRequest) {
	if ok, reason := client.RateLimiter.Acquire(); !ok {
		_ = client.WriteJSON(Notice{Type: "error", Message: reason, ChatID: req.ChatID})
		return
	}

	inv, err := s.runner.Stream(tracing.NewRequestContext(client.ctx), req)
	if err != nil {
		client.RateLimiter.Release()
		_ = client.WriteJSON(Notice{Type: "error", Message: err.Error(), ChatID: req.ChatID})
		return
	}

	client.track(inv)
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer client.RateLimiter.Release()
		defer client.untrack(inv)

		send := func(ev stream.Event) error { return client.WriteJSON(ev) }
		noop := func() error { return nil }
		if err := forward(client.ctx, inv, send, noop, 0); err != nil && !errors.Is(err, context.Canceled) {
			logger := tracing.LoggerFromContext(invocationContext(client.ctx, inv), s.logger)
			logger.Warn().Err(err).Str("client_id", client.ID).Msg("Event stream interrupted")
		}
	}()
}
