package toolexecutor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrToolNotAllowed      = errors.New("tool not allowed by policy")
	ErrToolBudgetExhausted = errors.New("tool call budget exhausted")
)

// ToolPolicy defines which tools may run
type ToolPolicy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// NewToolPolicy builds a policy and warns about lists that deny everything.
func NewToolPolicy(allow, deny []string) *ToolPolicy {
	p := &ToolPolicy{Allow: allow, Deny: deny}
	if len(allow) == 0 {
		log.Warn().Msg("Tool policy has empty allow list - all tools will be denied")
	}
	for _, d := range deny {
		if d == "*" {
			log.Warn().Msg("Tool policy denies * - no tool can run")
			break
		}
	}
	return p
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// CallBudget admits at most limit tool calls. One budget is created per
// invocation; it is safe for concurrent use.
type CallBudget struct {
	mu     sync.Mutex
	limit  int
	used   int
	policy *ToolPolicy
}

// NewCallBudget creates a budget. A non-positive limit admits nothing.
func NewCallBudget(limit int, policy *ToolPolicy) *CallBudget {
	return &CallBudget{limit: limit, policy: policy}
}

// Acquire admits a call to toolName or explains why not. Policy is checked
// first, so a denied call does not consume the budget.
func (b *CallBudget) Acquire(toolName string) error {
	if !b.policy.IsToolAllowed(toolName) {
		return fmt.Errorf("%w: %s", ErrToolNotAllowed, toolName)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used >= b.limit {
		return fmt.Errorf("%w: %s rejected after %d call(s)", ErrToolBudgetExhausted, toolName, b.used)
	}
	b.used++
	return nil
}

// Used returns how many calls were admitted.
func (b *CallBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns how many more calls would be admitted.
func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return 0
	}
	return b.limit - b.used
}

// RejectReason maps an Acquire error to a short metrics label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrToolNotAllowed):
		return "policy"
	case errors.Is(err, ErrToolBudgetExhausted):
		return "budget"
	case errors.Is(err, ErrUnknownTool):
		return "unknown"
	default:
		return "other"
	}
}
