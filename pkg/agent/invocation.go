package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/stream"
	"github.com/harun/briefing/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Invocation is one submitted chat request.
type Invocation struct {
	RunID     string
	ChatID    string
	Model     string
	MessageID string

	ctx    context.Context
	cancel context.CancelFunc
	mux    *stream.Multiplexer
	done   chan struct{}

	mu     sync.Mutex
	state  InvocationState
	result InvocationResult
}

func newInvocation(ctx context.Context, cancel context.CancelFunc, req InvocationRequest, buffer int) *Invocation {
	inv := &Invocation{
		RunID:     tracing.GetRunID(ctx),
		ChatID:    req.ChatID,
		Model:     req.Model,
		MessageID: conversation.NewID(),
		ctx:       ctx,
		cancel:    cancel,
		mux:       stream.NewMultiplexer(buffer),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	// Cancellation closes the stream right away; whatever the generation
	// and tool tasks try to emit afterwards is refused.
	context.AfterFunc(ctx, func() {
		inv.mux.Close(string(StateCancelled))
	})
	return inv
}

// Events is the ordered event stream. It is closed when the invocation
// ends.
func (inv *Invocation) Events() <-chan stream.Event {
	return inv.mux.Events()
}

// Done is closed once the result is available.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

// Wait blocks until the invocation ends and returns its result.
func (inv *Invocation) Wait() InvocationResult {
	<-inv.done
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.result
}

// Cancel stops the invocation. In-flight tool parts keep their last
// emitted state.
func (inv *Invocation) Cancel() {
	inv.cancel()
}

// State returns the current state.
func (inv *Invocation) State() InvocationState {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

func (inv *Invocation) transition(to InvocationState) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if err := checkTransition(inv.state, to); err != nil {
		return err
	}
	inv.state = to
	return nil
}

func (inv *Invocation) isDone() bool {
	select {
	case <-inv.done:
		return true
	default:
		return false
	}
}

func (inv *Invocation) complete(result InvocationResult) {
	inv.mu.Lock()
	inv.result = result
	inv.mu.Unlock()
	close(inv.done)
}

// invocationRun is the working state of one executing invocation.
type invocationRun struct {
	r      *Runner
	inv    *Invocation
	logger zerolog.Logger
	start  time.Time

	asm      *stream.Assembler
	budget   *toolexecutor.CallBudget
	messages []AgentMessage
	steps    int
	dropped  int
	usage    *TokenUsage

	// per step
	textID      string
	reasoningID string
	stepText    string
	call        *ToolCall
	toolWG      sync.WaitGroup
	toolResult  *toolexecutor.Result
}

func (run *invocationRun) elapsed() time.Duration {
	return time.Since(run.start)
}

func (run *invocationRun) emit(ctx context.Context, ev stream.Event) error {
	return run.inv.mux.EmitModel(ctx, ev)
}

// execute runs the invocation on the chat lane.
func (r *Runner) execute(ctx context.Context, inv *Invocation, req InvocationRequest) {
	observability.IncActiveInvocations()
	defer observability.DecActiveInvocations()

	ctx, span := tracing.StartSpan(ctx, "briefing/agent", "agent.invocation",
		attribute.String("chat_id", req.ChatID),
		attribute.String("model", req.Model),
	)
	defer span.End()

	run := &invocationRun{
		r:        r,
		inv:      inv,
		logger:   *tracing.LoggerFromContext(ctx, r.logger),
		start:    time.Now(),
		asm:      stream.NewAssembler(inv.MessageID),
		budget:   r.executor.NewCallBudget(),
		messages: buildMessages(conversation.Sanitize(req.Messages)),
	}
	inv.mux.Observe(func(ev stream.Event) {
		if err := run.asm.Apply(ev); err != nil {
			run.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Event not applied to message")
		}
	})

	state, err := run.loop(ctx, req.Model)
	if err != nil && state == StateFailed {
		tracing.RecordError(span, err)
	}
	span.SetAttributes(
		attribute.String("state", string(state)),
		attribute.Int("steps", run.steps),
	)
	run.logger.Info().
		Str("state", string(state)).
		Int("steps", run.steps).
		Int("tool_calls", run.budget.Used()).
		Int("dropped_tool_calls", run.dropped).
		Dur("duration", run.elapsed()).
		Msg("Invocation ended")

	r.finalize(ctx, inv, req, run, state, err)
}

// loop runs up to MaxSteps model steps. Only the first step may call a
// tool; a step that called one is followed by one that answers from the
// result.
func (run *invocationRun) loop(ctx context.Context, model string) (InvocationState, error) {
	r := run.r
	finishReason := "stop"

	for step := 1; step <= MaxSteps; step++ {
		request := LLMRequest{
			Model:        model,
			SystemPrompt: r.opts.SystemPrompt,
			Messages:     run.messages,
			Tools:        r.executor.Definitions(),
			NoToolCalls:  run.budget.Remaining() == 0,
			Temperature:  r.opts.Temperature,
			MaxTokens:    r.opts.MaxTokens,
		}

		ms, provider, err := r.openStream(ctx, request, run.logger)
		if err != nil {
			if ctx.Err() != nil {
				return StateCancelled, ctx.Err()
			}
			_ = run.emit(ctx, stream.Error(err.Error()))
			return StateFailed, err
		}
		run.logger.Debug().Int("step", step).Str("provider", provider).Msg("Model step started")

		if step == 1 {
			if err := run.inv.transition(StateStreaming); err != nil {
				_ = ms.Close()
				return StateFailed, err
			}
			if err := run.emit(ctx, stream.Start(run.inv.MessageID)); err != nil {
				_ = ms.Close()
				return run.interrupted(ctx, err)
			}
		}
		run.resetStep()
		if err := run.emit(ctx, stream.StartStep()); err != nil {
			_ = ms.Close()
			return run.interrupted(ctx, err)
		}

		reason, streamErr := run.consume(ctx, ms)
		_ = ms.Close()
		run.steps = step

		// The next step must not start before the tool is terminal.
		run.toolWG.Wait()

		if ctx.Err() != nil {
			return StateCancelled, ctx.Err()
		}
		if streamErr == nil {
			streamErr = run.closeText(ctx)
		}
		if streamErr != nil {
			if errors.Is(streamErr, stream.ErrClosed) || ctx.Err() != nil {
				return StateCancelled, context.Canceled
			}
			observability.RecordProviderError(provider)
			run.logger.Error().Err(streamErr).Int("step", step).Msg("Model stream failed")
			_ = run.emit(ctx, stream.Error(streamErr.Error()))
			return StateFailed, streamErr
		}
		if err := run.emit(ctx, stream.FinishStep()); err != nil {
			return run.interrupted(ctx, err)
		}
		if reason != "" {
			finishReason = reason
		}

		if run.call == nil || run.toolResult == nil {
			break
		}
		run.messages = append(run.messages, run.stepMessages()...)
	}

	if err := run.emit(ctx, stream.Finish(finishReason)); err != nil {
		return run.interrupted(ctx, err)
	}
	return StateFinished, nil
}

// interrupted classifies an emit failure.
func (run *invocationRun) interrupted(ctx context.Context, err error) (InvocationState, error) {
	if ctx.Err() != nil || errors.Is(err, stream.ErrClosed) {
		return StateCancelled, context.Canceled
	}
	return StateFailed, err
}

func (run *invocationRun) resetStep() {
	run.textID = ""
	run.reasoningID = ""
	run.stepText = ""
	run.call = nil
	run.toolResult = nil
}

// consume forwards one model step to the stream. It returns the provider's
// finish reason and the first error that ended the step.
func (run *invocationRun) consume(ctx context.Context, ms ModelStream) (string, error) {
	reason := ""
	for ms.Next() {
		d := ms.Delta()
		switch d.Kind {
		case DeltaText:
			if d.Text == "" {
				continue
			}
			if run.textID == "" {
				run.textID = conversation.NewID()
				if err := run.emit(ctx, stream.TextStart(run.textID)); err != nil {
					return reason, err
				}
			}
			if err := run.emit(ctx, stream.TextDelta(run.textID, d.Text)); err != nil {
				return reason, err
			}
			run.stepText += d.Text

		case DeltaReasoning:
			if d.Text == "" {
				continue
			}
			if run.reasoningID == "" {
				run.reasoningID = conversation.NewID()
			}
			if err := run.emit(ctx, stream.ReasoningDelta(run.reasoningID, d.Text)); err != nil {
				return reason, err
			}

		case DeltaToolCall:
			if d.ToolCall == nil {
				continue
			}
			if err := run.handleToolCall(ctx, *d.ToolCall); err != nil {
				return reason, err
			}

		case DeltaFinish:
			reason = d.FinishReason
			run.usage = run.usage.add(d.Usage)
		}
	}
	return reason, ms.Err()
}

func (run *invocationRun) closeText(ctx context.Context) error {
	if run.textID == "" {
		return nil
	}
	id := run.textID
	run.textID = ""
	return run.emit(ctx, stream.TextEnd(id))
}

// handleToolCall admits at most one call per invocation. A call over the
// budget or denied by policy is dropped without any event.
func (run *invocationRun) handleToolCall(ctx context.Context, call ToolCall) error {
	if err := run.budget.Acquire(call.Name); err != nil {
		reason := toolexecutor.RejectReason(err)
		run.dropped++
		run.logger.Warn().
			Str("tool", call.Name).
			Str("tool_call_id", call.ID).
			Str("reason", reason).
			Msg("Dropping tool call")
		observability.RecordToolCallRejected(call.Name, reason)
		observability.RecordToolRejectAudit(ctx, call.Name, run.inv.ChatID, reason)
		return nil
	}

	if call.ID == "" {
		call.ID = "call_" + conversation.NewID()
	}
	call.Input = normalizeInput(call.Input)

	if err := run.closeText(ctx); err != nil {
		return err
	}
	if err := run.emit(ctx, stream.ToolInputAvailable(call.ID, call.Name, call.Input)); err != nil {
		return err
	}

	run.call = &call
	run.toolWG.Add(1)
	go run.runTool(ctx, call)
	return nil
}

// runTool executes the admitted call in its own task. After cancellation
// nothing more is emitted, which leaves the part frozen.
func (run *invocationRun) runTool(ctx context.Context, call ToolCall) {
	defer run.toolWG.Done()
	mux := run.inv.mux

	if err := mux.EmitTool(ctx, stream.ToolRunning(call.ID)); err != nil {
		return
	}

	toolCtx := toolexecutor.ContextWithCallInfo(ctx, toolexecutor.CallInfo{
		ChatID:     run.inv.ChatID,
		ToolCallID: call.ID,
	})
	res := run.r.executor.Run(toolCtx, toolexecutor.ToolCallRequest{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      call.Input,
	})
	if ctx.Err() != nil {
		return
	}

	var err error
	if res.OK() {
		err = mux.EmitTool(ctx, stream.ToolOutputAvailable(call.ID, res.Output))
	} else {
		err = mux.EmitTool(ctx, stream.ToolOutputError(call.ID, res.Err.Message))
	}
	if err != nil {
		return
	}
	run.toolResult = &res
}

// stepMessages is the assistant turn of a step that called a tool,
// followed by the tool result.
func (run *invocationRun) stepMessages() []AgentMessage {
	assistant := AgentMessage{
		Role:      "assistant",
		Content:   run.stepText,
		ToolCalls: []ToolCall{*run.call},
	}
	result := AgentMessage{Role: "tool", ToolCallID: run.call.ID}
	if run.toolResult.OK() {
		result.Content = string(run.toolResult.Output)
		if result.Content == "" {
			result.Content = "null"
		}
	} else {
		result.Content = string(run.toolResult.Err.Payload())
		result.IsError = true
	}
	return []AgentMessage{assistant, result}
}
