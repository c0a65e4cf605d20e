package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/briefing/pkg/agent"
	"github.com/harun/briefing/pkg/conversation"
)

// Websocket client frame types.
const (
	FrameChat = "chat"
	FrameStop = "stop"
	FrameAuth = "auth"
)

// ClientFrame is a frame sent by a websocket client. A chat frame carries
// the same fields as a POST /api/chat body.
type ClientFrame struct {
	Type      string                 `json:"type"`
	ChatID    string                 `json:"id,omitempty"`
	Messages  []conversation.Message `json:"messages,omitempty"`
	Model     string                 `json:"model,omitempty"`
	Signature string                 `json:"signature,omitempty"`
}

// Notice is a server frame that is not a stream event.
type Notice struct {
	Type      string `json:"type"` // auth.challenge, auth.success, auth.failure, error
	Challenge string `json:"challenge,omitempty"`
	Message   string `json:"message,omitempty"`
	ChatID    string `json:"id,omitempty"`
}

// HistoryResponse is the body of GET /api/chat/{id}.
type HistoryResponse struct {
	ChatID   string                 `json:"id"`
	Messages []conversation.Message `json:"messages"`
	Running  bool                   `json:"running"`
}

// StopResponse is the body of POST /api/chat/{id}/stop.
type StopResponse struct {
	ChatID  string `json:"id"`
	Aborted bool   `json:"aborted"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClientState represents the state of a client connection
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// Client is a connected websocket client.
type Client struct {
	ID               string
	Conn             *websocket.Conn
	Authenticated    bool
	Challenge        string
	ChallengeExpires time.Time
	ConnectedAt      time.Time
	LastActivity     time.Time
	IPAddress        string
	AuthAttempts     int
	RateLimiter      *RateLimiter
	State            ClientState

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]*agent.Invocation
}

// WriteJSON writes one frame. gorilla connections allow a single writer.
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *Client) ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *Client) track(inv *agent.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[inv.RunID] = inv
}

func (c *Client) untrack(inv *agent.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, inv.RunID)
}

// stop cancels the client's invocations of chatID, or all of them when
// chatID is empty.
func (c *Client) stop(chatID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, inv := range c.streams {
		if chatID == "" || inv.ChatID == chatID {
			inv.Cancel()
			n++
		}
	}
	return n
}

func (c *Client) streamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}
