// Package anthropic implements agent sessions on the Anthropic Messages API.
// Each prompt runs a tool loop (read, write, edit, bash) confined to the
// request's working directory and reports progress as agent events.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxTokens     = 8192
	DefaultMaxIterations = 40

	subscriberBuffer = 256
)

// thinkingBudgets maps reasoning effort to extended-thinking token budgets
var thinkingBudgets = map[domain.ReasoningEffort]int64{
	domain.EffortLow:    0,
	domain.EffortMedium: 4096,
	domain.EffortHigh:   16384,
}

var errSessionClosed = errors.New("agent session is closed")

// MessagesClient is the subset of the SDK used here; *sdk.MessageService satisfies it
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Metrics receives model and tool measurements
type Metrics interface {
	RecordLLMCall(model string, err error, latency time.Duration, inputTokens, outputTokens int64)
	RecordToolExecution(tool string, failed bool, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordLLMCall(string, error, time.Duration, int64, int64) {}
func (nopMetrics) RecordToolExecution(string, bool, time.Duration)          {}

// Options configures sessions created by a Factory
type Options struct {
	Model         string
	MaxTokens     int64
	MaxIterations int
	Metrics       Metrics
	Logger        *zap.Logger
}

// Factory creates Anthropic-backed agent sessions
type Factory struct {
	client MessagesClient
	opts   Options
}

var _ ports.AgentFactory = (*Factory)(nil)

// NewFactory creates a factory around an existing messages client
func NewFactory(client MessagesClient, opts Options) (*Factory, error) {
	if client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Factory{client: client, opts: opts}, nil
}

// NewFactoryFromAPIKey creates a factory using the default Anthropic HTTP client
func NewFactoryFromAPIKey(apiKey string, opts Options) (*Factory, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewFactory(&ac.Messages, opts)
}

// NewSession creates a fresh agent session for a pooled worker
func (f *Factory) NewSession(ctx context.Context, role domain.Role) (ports.AgentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	return &Session{
		id:     id,
		role:   role,
		client: f.client,
		opts:   f.opts,
		logger: f.opts.Logger.With(zap.String("role", string(role)), zap.String("session_id", id)),
		effort: domain.EffortLow,
		subs:   make(map[int]*subscriber),
	}, nil
}

type subscriber struct {
	ch   chan ports.AgentEvent
	done chan struct{}
	once sync.Once
}

// Session is one agent conversation owned by a pooled worker
type Session struct {
	id     string
	role   domain.Role
	client MessagesClient
	opts   Options
	logger *zap.Logger

	// promptMu serializes turns
	promptMu sync.Mutex

	mu      sync.Mutex
	effort  domain.ReasoningEffort
	subs    map[int]*subscriber
	nextSub int
	closed  bool
}

var _ ports.AgentSession = (*Session)(nil)

// ID returns the session identity
func (s *Session) ID() string { return s.id }

// SetReasoningEffort chooses the thinking budget for subsequent prompts
func (s *Session) SetReasoningEffort(effort domain.ReasoningEffort) error {
	if !effort.Valid() {
		return fmt.Errorf("invalid reasoning effort %q", effort)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effort = effort
	return nil
}

// Subscribe returns a channel of turn events. The returned function ends the
// subscription; the channel is never closed, so readers stop on their own signal.
func (s *Session) Subscribe() (<-chan ports.AgentEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	sub := &subscriber{
		ch:   make(chan ports.AgentEvent, subscriberBuffer),
		done: make(chan struct{}),
	}
	s.subs[id] = sub

	return sub.ch, func() {
		sub.once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}
}

// publish delivers an event to every subscriber, waiting on slow readers until they
// unsubscribe. Nothing is delivered once ctx is done.
func (s *Session) publish(ctx context.Context, event ports.AgentEvent) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-ctx.Done():
			return
		}
	}
}

// Prompt runs one prompt through the tool loop. Every prompt starts a fresh conversation.
func (s *Session) Prompt(ctx context.Context, req ports.PromptRequest) error {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	s.mu.Lock()
	closed, effort := s.closed, s.effort
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}

	tools, err := newToolbox(req.WorkDir)
	if err != nil {
		return err
	}

	messages := []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Text))}
	for iteration := 0; iteration < s.opts.MaxIterations; iteration++ {
		msg, err := s.call(ctx, messages, effort, tools.root)
		if err != nil {
			return err
		}
		messages = append(messages, msg.ToParam())

		var results []sdk.ContentBlockParamUnion
		for _, block := range msg.Content {
			if err := ctx.Err(); err != nil {
				return err
			}
			switch block.Type {
			case "text":
				if block.Text != "" {
					s.publish(ctx, ports.AgentEvent{Type: ports.AgentEventTextDelta, Text: block.Text})
				}
			case "tool_use":
				results = append(results, s.runTool(ctx, tools, block.ID, block.Name, block.Input))
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if msg.StopReason != sdk.StopReasonToolUse || len(results) == 0 {
			s.publish(ctx, ports.AgentEvent{Type: ports.AgentEventTurnEnd})
			return nil
		}
		messages = append(messages, sdk.NewUserMessage(results...))
	}

	return fmt.Errorf("agent exceeded %d tool iterations", s.opts.MaxIterations)
}

func (s *Session) call(ctx context.Context, messages []sdk.MessageParam, effort domain.ReasoningEffort, root string) (*sdk.Message, error) {
	params := sdk.MessageNewParams{
		MaxTokens: s.opts.MaxTokens,
		Messages:  messages,
		Model:     sdk.Model(s.opts.Model),
		System:    []sdk.TextBlockParam{{Text: systemPrompt(root)}},
		Tools:     encodeTools(),
	}
	if budget := thinkingBudgets[effort]; budget > 0 {
		params.MaxTokens = s.opts.MaxTokens + budget
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}

	start := time.Now()
	msg, err := s.client.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		s.opts.Metrics.RecordLLMCall(s.opts.Model, err, latency, 0, 0)
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		err := errors.New("anthropic: response message is nil")
		s.opts.Metrics.RecordLLMCall(s.opts.Model, err, latency, 0, 0)
		return nil, err
	}
	s.opts.Metrics.RecordLLMCall(s.opts.Model, nil, latency, msg.Usage.InputTokens, msg.Usage.OutputTokens)

	s.logger.Debug("model call finished",
		zap.String("stop_reason", string(msg.StopReason)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("latency", latency))
	return msg, nil
}

func (s *Session) runTool(ctx context.Context, tools *toolbox, id, name string, input json.RawMessage) sdk.ContentBlockParamUnion {
	var args map[string]any
	_ = json.Unmarshal(input, &args)
	s.publish(ctx, ports.AgentEvent{Type: ports.AgentEventToolStart, ToolCallID: id, ToolName: name, Args: args})

	start := time.Now()
	result, err := tools.execute(ctx, name, input)
	failed := err != nil
	if failed {
		result = err.Error()
	}
	s.opts.Metrics.RecordToolExecution(name, failed, time.Since(start))

	s.publish(ctx, ports.AgentEvent{
		Type:       ports.AgentEventToolEnd,
		ToolCallID: id,
		ToolName:   name,
		Result:     result,
		IsError:    failed,
	})
	return sdk.NewToolResultBlock(id, result, failed)
}

// Close releases the session; later prompts fail
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func systemPrompt(root string) string {
	return fmt.Sprintf("You are a software engineer working in the repository at %s. "+
		"Use the read, write, edit and bash tools to make real changes; paths are relative to that directory. "+
		"Finish with a brief summary of what you changed.", root)
}
