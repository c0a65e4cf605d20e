package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/commandqueue"
	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/session"
	"github.com/harun/briefing/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

var ErrEmptyConversation = errors.New("conversation has no messages")

// Runner drives chat invocations: it streams model steps, runs the single
// admitted tool call and persists the resulting conversation.
type Runner struct {
	executor        *toolexecutor.Executor
	commandQueue    *commandqueue.CommandQueue
	sessions        *session.SessionManager
	providerFactory ProviderCreator
	logger          zerolog.Logger
	opts            Options

	authProfiles []AuthProfile
	authMu       sync.RWMutex

	// Active invocations per chat, for Abort.
	active map[string]map[string]*Invocation
	runsMu sync.Mutex
}

// Config holds runner dependencies. Sessions is optional.
type Config struct {
	Executor        *toolexecutor.Executor
	CommandQueue    *commandqueue.CommandQueue
	Sessions        *session.SessionManager
	Profiles        []AuthProfile
	ProviderFactory ProviderCreator
	Logger          zerolog.Logger
	Options         Options
}

// NewRunner creates a new runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.CommandQueue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	profiles := make([]AuthProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)

	return &Runner{
		executor:        cfg.Executor,
		commandQueue:    cfg.CommandQueue,
		sessions:        cfg.Sessions,
		providerFactory: providerFactory,
		logger:          cfg.Logger,
		opts:            cfg.Options.withDefaults(),
		authProfiles:    profiles,
		active:          make(map[string]map[string]*Invocation),
	}, nil
}

// Options returns the effective options.
func (r *Runner) Options() Options {
	return r.opts
}

// Stream submits an invocation and returns immediately. Invocations of the
// same chat run one after another; the events of a queued invocation start
// once the previous one is done.
func (r *Runner) Stream(ctx context.Context, req InvocationRequest) (*Invocation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.ChatID == "" {
		req.ChatID = conversation.NewID()
	}
	if err := session.ValidateChatID(req.ChatID); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}
	if req.Model == "" {
		req.Model = r.opts.DefaultModel
	}

	ctx = tracing.NewInvocationContext(ctx, req.ChatID, req.Model)
	invCtx, cancel := context.WithCancel(ctx)
	inv := newInvocation(invCtx, cancel, req, r.opts.EventBuffer)
	if err := inv.transition(StateSubmitted); err != nil {
		cancel()
		return nil, err
	}

	r.register(inv)
	logger := tracing.LoggerFromContext(invCtx, r.logger)
	logger.Info().Int("messages", len(req.Messages)).Msg("Invocation submitted")

	go func() {
		defer r.unregister(inv)
		defer cancel()

		lane := "chat:" + req.ChatID
		_, err := r.commandQueue.Enqueue(invCtx, lane, func(taskCtx context.Context) (interface{}, error) {
			r.execute(taskCtx, inv, req)
			return nil, nil
		})
		if err != nil && !inv.isDone() {
			// Never started: cancelled while queued or the queue shut down.
			state := StateFailed
			if invCtx.Err() != nil {
				state = StateCancelled
			}
			logger.Info().Err(err).Str("state", string(state)).Msg("Invocation did not start")
			r.finalize(invCtx, inv, req, nil, state, err)
		}
	}()

	return inv, nil
}

// Abort cancels every active invocation of a chat and reports whether
// there was one.
func (r *Runner) Abort(chatID string) bool {
	r.runsMu.Lock()
	runs := make([]*Invocation, 0, len(r.active[chatID]))
	for _, inv := range r.active[chatID] {
		runs = append(runs, inv)
	}
	r.runsMu.Unlock()

	if len(runs) == 0 {
		r.logger.Debug().Str("chat_id", chatID).Msg("No active invocation to abort")
		return false
	}

	r.logger.Info().Str("chat_id", chatID).Int("invocations", len(runs)).Msg("Aborting invocation")
	for _, inv := range runs {
		inv.Cancel()
	}
	return true
}

// IsRunning reports whether a chat has a submitted or streaming invocation.
func (r *Runner) IsRunning(chatID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	return len(r.active[chatID]) > 0
}

// History returns the stored conversation of a chat.
func (r *Runner) History(ctx context.Context, chatID string) ([]conversation.Message, error) {
	if r.sessions == nil {
		return []conversation.Message{}, nil
	}
	return r.sessions.LoadConversation(ctx, chatID)
}

func (r *Runner) register(inv *Invocation) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	runs, ok := r.active[inv.ChatID]
	if !ok {
		runs = make(map[string]*Invocation)
		r.active[inv.ChatID] = runs
	}
	runs[inv.RunID] = inv
}

func (r *Runner) unregister(inv *Invocation) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	runs := r.active[inv.ChatID]
	delete(runs, inv.RunID)
	if len(runs) == 0 {
		delete(r.active, inv.ChatID)
	}
}

// persist stores the submitted history followed by the assistant message.
// It runs on a detached context so a cancelled invocation still saves its
// frozen snapshot.
func (r *Runner) persist(ctx context.Context, req InvocationRequest, msg conversation.Message) {
	if r.sessions == nil {
		return
	}

	messages := make([]conversation.Message, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		messages = append(messages, m.Clone())
	}
	if len(msg.Parts) > 0 {
		messages = append(messages, msg)
	}

	saveCtx := tracing.Detach(ctx)
	if err := r.sessions.SaveConversation(saveCtx, req.ChatID, messages); err != nil {
		tracing.LoggerFromContext(ctx, r.logger).Error().Err(err).Msg("Failed to persist conversation")
	}
}

// finalize closes the stream and publishes the result. run is nil when the
// invocation never started; nothing is persisted then.
func (r *Runner) finalize(ctx context.Context, inv *Invocation, req InvocationRequest, run *invocationRun, state InvocationState, err error) {
	if terr := inv.transition(state); terr != nil {
		tracing.LoggerFromContext(ctx, r.logger).Warn().Err(terr).Msg("Unexpected invocation state")
		state = inv.State()
	}
	inv.mux.Close(string(state))

	result := InvocationResult{
		RunID:  inv.RunID,
		ChatID: inv.ChatID,
		State:  state,
		Err:    err,
	}
	if run != nil {
		result.Message = run.asm.Message()
		result.Steps = run.steps
		result.ToolCalls = run.budget.Used()
		result.Dropped = run.dropped
		result.Usage = run.usage
		observability.RecordInvocation(string(state), run.elapsed())
		r.persist(ctx, req, result.Message)
	} else {
		observability.RecordInvocation(string(state), 0)
	}

	inv.complete(result)
}
