package ports

import (
	"context"

	"github.com/garymjr/beadworks/internal/domain"
)

// AgentEventType tags a structured turn event
type AgentEventType string

const (
	AgentEventTextDelta AgentEventType = "text_delta"
	AgentEventToolStart AgentEventType = "tool_start"
	AgentEventToolEnd   AgentEventType = "tool_end"
	AgentEventTurnEnd   AgentEventType = "turn_end"
)

// AgentEvent is one structured event produced while an agent works on a prompt
type AgentEvent struct {
	Type       AgentEventType
	Text       string
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     string
	IsError    bool
}

// PromptRequest is a single prompt submission
type PromptRequest struct {
	Text    string
	WorkDir string
}

// AgentSession is one execution-capable agent conversation owned by a pooled worker
type AgentSession interface {
	ID() string
	SetReasoningEffort(effort domain.ReasoningEffort) error
	// Prompt runs exactly one prompt/response cycle. Turn events, ending with
	// AgentEventTurnEnd, are delivered to subscribers.
	Prompt(ctx context.Context, req PromptRequest) error
	// Subscribe returns a channel of turn events and a function that ends the subscription
	Subscribe() (<-chan AgentEvent, func())
	Close() error
}

// AgentFactory creates agent sessions for pooled workers
type AgentFactory interface {
	NewSession(ctx context.Context, role domain.Role) (AgentSession, error)
}
