package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/briefing/pkg/conversation"
)

// MaxSteps bounds the model steps of one invocation: a step that may call
// a tool and a step that answers from its result.
const MaxSteps = 2

var (
	ErrInvalidStateTransition = errors.New("invalid invocation state transition")
	ErrNoProfiles             = errors.New("no usable auth profile")
)

// InvocationState is the lifecycle of a single model invocation.
type InvocationState string

const (
	StateIdle      InvocationState = "idle"
	StateSubmitted InvocationState = "submitted"
	StateStreaming InvocationState = "streaming"
	StateFinished  InvocationState = "finished"
	StateCancelled InvocationState = "cancelled"
	StateFailed    InvocationState = "failed"
)

var stateTransitions = map[InvocationState][]InvocationState{
	StateIdle:      {StateSubmitted},
	StateSubmitted: {StateStreaming, StateCancelled, StateFailed},
	StateStreaming: {StateFinished, StateCancelled, StateFailed},
}

// Terminal reports whether the invocation is over.
func (s InvocationState) Terminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateFailed
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to InvocationState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to InvocationState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	return nil
}

// InvocationRequest is one chat request.
type InvocationRequest struct {
	ChatID   string                 `json:"id"`
	Messages []conversation.Message `json:"messages"`
	Model    string                 `json:"model"`
}

// InvocationResult is the outcome of an invocation. Message is the
// assistant message as emitted; after cancellation it is the frozen
// snapshot.
type InvocationResult struct {
	RunID     string               `json:"runId"`
	ChatID    string               `json:"chatId"`
	State     InvocationState      `json:"state"`
	Message   conversation.Message `json:"message"`
	Steps     int                  `json:"steps"`
	ToolCalls int                  `json:"toolCalls"`
	Dropped   int                  `json:"droppedToolCalls"`
	Usage     *TokenUsage          `json:"usage,omitempty"`
	Err       error                `json:"-"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) add(other *TokenUsage) *TokenUsage {
	if other == nil {
		return u
	}
	if u == nil {
		u = &TokenUsage{}
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	return u
}

// AuthProfile is one set of provider credentials.
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "openrouter", "openai", "anthropic"
	APIKey        string `json:"api_key"`
	BaseURL       string `json:"base_url,omitempty"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

// Options tune model requests.
type Options struct {
	DefaultModel   string
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	RetryBaseDelay time.Duration
	Cooldown       time.Duration
	EventBuffer    int
}

// DefaultOptions returns the defaults used for zero fields.
func DefaultOptions() Options {
	return Options{
		DefaultModel:   "openai/gpt-4.1-nano",
		Temperature:    0.2,
		MaxTokens:      2048,
		MaxRetries:     2,
		RetryBaseDelay: time.Second,
		Cooldown:       time.Minute,
		EventBuffer:    64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultModel == "" {
		o.DefaultModel = d.DefaultModel
	}
	if o.Temperature <= 0 {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = d.RetryBaseDelay
	}
	if o.Cooldown <= 0 {
		o.Cooldown = d.Cooldown
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	return o
}

// IsRetryableError reports whether opening a stream may succeed on retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset", "connection refused",
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
