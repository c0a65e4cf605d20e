package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout applies to tools that do not declare their own.
const DefaultTimeout = 30 * time.Second

// ErrorKind classifies a failed tool call.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindCancelled  ErrorKind = "cancelled"
	KindPanic      ErrorKind = "panic"
	KindPolicy     ErrorKind = "policy"
	KindExecution  ErrorKind = "execution"
)

// ToolError is a failed call as reported to the stream and the model.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"error"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Payload is the JSON the model sees in place of an output.
func (e *ToolError) Payload() json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": e.Message})
	return data
}

// ToolCallRequest is a tool invocation requested by the model.
type ToolCallRequest struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

// Result is the outcome of one tool call. Exactly one of Output and Err is set.
type Result struct {
	Output   json.RawMessage
	Err      *ToolError
	Duration time.Duration
}

// OK reports whether the call produced an output.
func (r Result) OK() bool { return r.Err == nil }

// Executor validates and runs tool calls against a Registry.
type Executor struct {
	registry *Registry
	policy   *ToolPolicy
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy restricts which tools Execute will run.
func WithPolicy(p *ToolPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithDefaultTimeout sets the timeout for tools without their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor.
func New(registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		timeout:  DefaultTimeout,
		logger:   log.Logger.With().Str("component", "toolexecutor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor runs against.
func (e *Executor) Registry() *Registry { return e.registry }

// Definitions returns the definitions of every tool the policy allows.
func (e *Executor) Definitions() []Definition {
	return e.registry.Definitions(e.policy)
}

// NewCallBudget returns a one-call budget bound to the executor's policy.
func (e *Executor) NewCallBudget() *CallBudget {
	return NewCallBudget(1, e.policy)
}

// Validate checks rawInput against the named tool's schema and applies
// defaults for omitted optional fields.
func (e *Executor) Validate(name string, rawInput json.RawMessage) (ValidatedInput, *ValidationError) {
	toolName, err := ParseToolName(name)
	if err != nil {
		return ValidatedInput{}, &ValidationError{Tool: name, Problems: []string{"unknown tool"}}
	}
	tool, ok := e.registry.lookup(toolName)
	if !ok {
		return ValidatedInput{}, &ValidationError{Tool: name, Problems: []string{"tool is not registered"}}
	}

	args, err := decodeObject(rawInput)
	if err != nil {
		return ValidatedInput{}, &ValidationError{Tool: name, Problems: []string{err.Error()}}
	}
	applyDefaults(tool.spec.Parameters, args)

	problems, err := validateArgs(tool.schema, args)
	if err != nil {
		return ValidatedInput{}, &ValidationError{Tool: name, Problems: []string{err.Error()}}
	}
	if len(problems) > 0 {
		return ValidatedInput{}, &ValidationError{Tool: name, Problems: problems}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return ValidatedInput{}, &ValidationError{Tool: name, Problems: []string{err.Error()}}
	}

	return ValidatedInput{Tool: toolName, Args: args, Raw: raw}, nil
}

// Run validates and executes a model tool call.
func (e *Executor) Run(ctx context.Context, req ToolCallRequest) Result {
	input, verr := e.Validate(req.ToolName, req.Input)
	if verr != nil {
		e.logger.Warn().
			Str("tool", req.ToolName).
			Str("tool_call_id", req.ToolCallID).
			Strs("problems", verr.Problems).
			Msg("Tool input rejected")
		observability.RecordToolExecution(req.ToolName, 0, false)
		return Result{Err: &ToolError{Kind: KindValidation, Message: verr.Error()}}
	}
	return e.Execute(ctx, input)
}

// Execute runs a validated call with timeout, panic and cancellation capture.
func (e *Executor) Execute(ctx context.Context, input ValidatedInput) Result {
	startTime := time.Now()
	toolName := string(input.Tool)
	info, _ := CallInfoFromContext(ctx)

	ctx, span := tracing.StartSpan(ctx, "briefing/toolexecutor", "toolexecutor.execute",
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", info.ToolCallID),
	)
	defer span.End()

	logger := tracing.PropagateToLogger(ctx, e.logger).With().
		Str("tool", toolName).
		Str("tool_call_id", info.ToolCallID).
		Logger()

	finish := func(res Result) Result {
		res.Duration = time.Since(startTime)
		observability.RecordToolExecution(toolName, res.Duration, res.OK())
		status := "success"
		if !res.OK() {
			status = string(res.Err.Kind)
			tracing.RecordError(span, res.Err)
		}
		observability.RecordToolAudit(ctx, toolName, info.ChatID, status, map[string]interface{}{
			"tool_call_id": info.ToolCallID,
			"duration_ms":  res.Duration.Milliseconds(),
		})
		return res
	}

	if !e.policy.IsToolAllowed(toolName) {
		logger.Warn().Msg("Tool execution blocked by policy")
		return finish(Result{Err: &ToolError{
			Kind:    KindPolicy,
			Message: fmt.Sprintf("tool '%s' is not allowed by policy", toolName),
		}})
	}

	tool, ok := e.registry.lookup(input.Tool)
	if !ok {
		return finish(Result{Err: &ToolError{Kind: KindValidation, Message: fmt.Sprintf("tool not found: %s", toolName)}})
	}

	timeout := e.timeout
	if tool.spec.Timeout > 0 {
		timeout = tool.spec.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
		panic interface{}
	}
	done := make(chan outcome, 1)

	logger.Debug().Msg("Executing tool")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Tool handler panicked")
				done <- outcome{panic: r}
			}
		}()
		value, err := tool.spec.Handler(timeoutCtx, input)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.panic != nil:
			return finish(Result{Err: &ToolError{Kind: KindPanic, Message: fmt.Sprintf("tool panicked: %v", out.panic)}})
		case out.err != nil:
			if kind, ok := contextKind(ctx, timeoutCtx); ok {
				return finish(Result{Err: &ToolError{Kind: kind, Message: contextMessage(kind, timeout)}})
			}
			logger.Error().Err(out.err).Msg("Tool execution failed")
			return finish(Result{Err: &ToolError{Kind: KindExecution, Message: out.err.Error()}})
		}

		output, err := json.Marshal(out.value)
		if err != nil {
			return finish(Result{Err: &ToolError{Kind: KindExecution, Message: fmt.Sprintf("failed to encode output: %v", err)}})
		}

		logger.Debug().Dur("duration", time.Since(startTime)).Msg("Tool execution completed")
		return finish(Result{Output: output})

	case <-timeoutCtx.Done():
		kind, _ := contextKind(ctx, timeoutCtx)
		if kind == "" {
			kind = KindTimeout
		}
		logger.Warn().Str("kind", string(kind)).Msg("Tool execution interrupted")
		return finish(Result{Err: &ToolError{Kind: kind, Message: contextMessage(kind, timeout)}})
	}
}

// contextKind tells a caller cancellation apart from the tool's own deadline.
func contextKind(parent, timeoutCtx context.Context) (ErrorKind, bool) {
	if parent.Err() != nil {
		return KindCancelled, true
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return KindTimeout, true
	}
	return "", false
}

func contextMessage(kind ErrorKind, timeout time.Duration) string {
	if kind == KindCancelled {
		return "tool execution cancelled"
	}
	return fmt.Sprintf("tool execution timeout after %v", timeout)
}
