package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/agent"
	"github.com/harun/briefing/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 4 << 20

// Server serves the chat API over HTTP, SSE and websockets.
type Server struct {
	host      string
	port      int
	heartbeat time.Duration
	server    *http.Server
	listener  net.Listener
	upgrader  websocket.Upgrader
	clients   *ClientRegistry
	limiters  *limiterPool
	auth      *AuthHandler
	runner    *agent.Runner
	executor  *toolexecutor.Executor
	logger    zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlight       sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
	// SharedSecret is optional; when set every API call must present it.
	SharedSecret string
	// Heartbeat is the SSE comment and websocket ping interval; zero
	// disables it.
	Heartbeat         time.Duration
	RequestsPerMinute int
	MaxConcurrent     int
	Runner            *agent.Runner
	Executor          *toolexecutor.Executor
	Logger            zerolog.Logger
}

// NewServer creates a new server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	observability.EnsureRegistered()

	return &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		heartbeat: cfg.Heartbeat,
		clients:   NewClientRegistry(),
		limiters:  newLimiterPool(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		auth:      NewAuthHandler(cfg.SharedSecret),
		runner:    cfg.Runner,
		executor:  cfg.Executor,
		logger:    cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // access is gated by the shared secret
			},
		},
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.requireSecret(s.handleChat))
	mux.HandleFunc("POST /api/chat/{id}/stop", s.requireSecret(s.handleStop))
	mux.HandleFunc("GET /api/chat/{id}", s.requireSecret(s.handleHistory))
	mux.HandleFunc("GET /api/tools", s.requireSecret(s.handleTools))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"clients": s.clients.Count(),
			"streams": s.clients.Streams(),
		})
	})
	return s.withTrace(mux)
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server error")
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new work, waits for open streams up to ctx's deadline and
// shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down server")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight streams completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, cancelling streams")
		for _, client := range s.clients.All() {
			client.stop("")
		}
	}

	for _, client := range s.clients.All() {
		client.cancel()
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// withTrace starts a trace for every request, reusing X-Trace-Id when the
// caller sends one.
func (s *Server) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
			ctx = tracing.WithTraceID(ctx, traceID)
		} else {
			ctx = tracing.NewRequestContext(ctx)
		}
		w.Header().Set("X-Trace-Id", tracing.GetTraceID(ctx))

		tracing.LoggerFromContext(ctx, s.logger).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Msg("Request received")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.CheckSecret(r.Header.Get(SecretHeader)) {
			observability.RecordAuthFailure()
			observability.RecordSecurityAudit(r.Context(), "http_auth", r.RemoteAddr, "denied")
			tracing.LoggerFromContext(r.Context(), s.logger).Warn().
				Str("remote", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("Rejected request without valid secret")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
