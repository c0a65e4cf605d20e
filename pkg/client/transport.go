package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/stream"
	"github.com/rs/zerolog"
)

const secretHeader = "X-Briefing-Secret"

// Request is the body of POST /api/chat.
type Request struct {
	ChatID   string                 `json:"id,omitempty"`
	Messages []conversation.Message `json:"messages"`
	Model    string                 `json:"model,omitempty"`
}

// Transport delivers a request to the service and hands every received
// event to handle, in order. Send returns when the stream ends; a stream
// cut short by ctx returns ctx's error.
type Transport interface {
	Send(ctx context.Context, req Request, handle func(stream.Event)) error
}

// HTTPTransport talks to the gateway over HTTP and SSE.
type HTTPTransport struct {
	baseURL string
	secret  string
	http    *http.Client
	logger  zerolog.Logger
}

// NewHTTPTransport creates a transport for the service at baseURL. secret
// may be empty.
func NewHTTPTransport(baseURL, secret string, logger zerolog.Logger) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		// No overall timeout: streams last as long as the model runs.
		http:   &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 2 * time.Minute}},
		logger: logger,
	}
}

// Send posts req and reads the event stream.
func (t *HTTPTransport) Send(ctx context.Context, req Request, handle func(stream.Event)) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := t.do(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := stream.NewSSEReader(resp.Body)
	for {
		ev, err := reader.Next()
		switch {
		case err == nil:
			handle(ev)
		case stream.IsEndOfStream(err):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("event stream broken: %w", err)
		}
	}
}

// History fetches the stored conversation for chatID.
func (t *HTTPTransport) History(ctx context.Context, chatID string) ([]conversation.Message, error) {
	resp, err := t.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(chatID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Messages []conversation.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return body.Messages, nil
}

// Abort asks the service to stop the running invocation for chatID and
// reports whether one was running.
func (t *HTTPTransport) Abort(ctx context.Context, chatID string) (bool, error) {
	resp, err := t.do(ctx, http.MethodPost, "/api/chat/"+url.PathEscape(chatID)+"/stop", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var body struct {
		Aborted bool `json:"aborted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode stop response: %w", err)
	}
	return body.Aborted, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.secret != "" {
		req.Header.Set(secretHeader, t.secret)
	}

	t.logger.Debug().Str("method", method).Str("path", path).Msg("Calling service")

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// ServiceError is a non-200 response from the service.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service returned %d: %s", e.Code, e.Message)
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &ServiceError{Code: resp.StatusCode, Message: body.Error}
}

// IsUnauthorized reports whether err is a 401 from the service.
func IsUnauthorized(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}
