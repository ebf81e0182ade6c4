package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
)

type fakeTracker struct {
	mu       sync.Mutex
	issues   map[string]*domain.Issue
	children map[string][]string
	comments map[string][]string
	closed   map[string]string
	statuses map[string][]domain.IssueStatus

	subtasksErr error
	updateErr   error
	// gate blocks Subtasks until it is closed
	gate chan struct{}
	// onClose runs before an issue is closed
	onClose func(id string)
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:   make(map[string]*domain.Issue),
		children: make(map[string][]string),
		comments: make(map[string][]string),
		closed:   make(map[string]string),
		statuses: make(map[string][]domain.IssueStatus),
	}
}

func (f *fakeTracker) addIssue(issue domain.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if issue.Status == "" {
		issue.Status = domain.IssueStatusOpen
	}
	f.issues[issue.ID] = &issue
	if issue.ParentID != "" {
		f.children[issue.ParentID] = append(f.children[issue.ParentID], issue.ID)
	}
}

func (f *fakeTracker) status(id string) domain.IssueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issues[id].Status
}

func (f *fakeTracker) commentsFor(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[id]...)
}

func (f *fakeTracker) closeReason(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.closed[id]
	return reason, ok
}

func (f *fakeTracker) statusHistory(id string) []domain.IssueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.IssueStatus(nil), f.statuses[id]...)
}

func (f *fakeTracker) List(ctx context.Context, filter ports.ListFilter) ([]domain.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Issue
	for _, issue := range f.issues {
		out = append(out, *issue)
	}
	return out, nil
}

func (f *fakeTracker) Show(ctx context.Context, id string) (*domain.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok {
		return nil, &domain.CommandError{Command: "bd", Args: []string{"show", id}, ExitCode: 1, Stderr: "issue not found"}
	}
	c := *issue
	return &c, nil
}

func (f *fakeTracker) Create(ctx context.Context, req ports.CreateIssueRequest) (*domain.Issue, error) {
	return nil, errors.New("not supported")
}

func (f *fakeTracker) Update(ctx context.Context, id string, req ports.UpdateIssueRequest) (*domain.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	issue, ok := f.issues[id]
	if !ok {
		return nil, fmt.Errorf("unknown issue %s", id)
	}
	if req.Status != "" {
		issue.Status = req.Status
		f.statuses[id] = append(f.statuses[id], req.Status)
	}
	c := *issue
	return &c, nil
}

func (f *fakeTracker) Close(ctx context.Context, id, reason string) error {
	if f.onClose != nil {
		f.onClose(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok {
		return fmt.Errorf("unknown issue %s", id)
	}
	issue.Status = domain.IssueStatusClosed
	f.closed[id] = reason
	return nil
}

func (f *fakeTracker) Reopen(ctx context.Context, id string) error {
	_, err := f.Update(ctx, id, ports.UpdateIssueRequest{Status: domain.IssueStatusOpen})
	return err
}

func (f *fakeTracker) AddComment(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[id] = append(f.comments[id], text)
	return nil
}

func (f *fakeTracker) Subtasks(ctx context.Context, id string) ([]domain.Issue, domain.SubtaskSummary, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, domain.SubtaskSummary{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subtasksErr != nil {
		return nil, domain.SubtaskSummary{}, f.subtasksErr
	}
	var out []domain.Issue
	summary := domain.SubtaskSummary{}
	for _, childID := range f.children[id] {
		child := *f.issues[childID]
		out = append(out, child)
		summary.Total++
		if child.Closed() {
			summary.Completed++
		} else {
			summary.Pending++
		}
	}
	return out, summary, nil
}

func (f *fakeTracker) Search(ctx context.Context, query string) ([]domain.Issue, error) {
	return nil, nil
}

type fakePrompts struct{}

func (fakePrompts) SubtaskPrompt(parent, subtask domain.Issue) (string, error) {
	return "subtask:" + subtask.ID, nil
}

func (fakePrompts) IssuePrompt(issue domain.Issue) (string, error) {
	return "issue:" + issue.ID, nil
}

// turnScript produces the events of one turn. Returning block makes the turn hang until cancelled.
type turnScript func(subtaskID string) (events []ports.AgentEvent, block bool)

type scriptedSession struct {
	id     string
	script turnScript

	mu      sync.Mutex
	subs    map[int]chan ports.AgentEvent
	nextSub int
	prompts []string
}

func (s *scriptedSession) ID() string { return s.id }

func (s *scriptedSession) SetReasoningEffort(domain.ReasoningEffort) error { return nil }

func (s *scriptedSession) Prompt(ctx context.Context, req ports.PromptRequest) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Text)
	s.mu.Unlock()

	events, block := s.script(strings.TrimPrefix(req.Text, "subtask:"))
	for _, event := range events {
		s.publish(event)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.publish(ports.AgentEvent{Type: ports.AgentEventTurnEnd})
	return nil
}

func (s *scriptedSession) publish(event ports.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *scriptedSession) Subscribe() (<-chan ports.AgentEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan ports.AgentEvent)
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan ports.AgentEvent, 64)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *scriptedSession) Close() error { return nil }

func (s *scriptedSession) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type scriptedFactory struct {
	script   turnScript
	mu       sync.Mutex
	sessions []*scriptedSession
}

func (f *scriptedFactory) NewSession(ctx context.Context, role domain.Role) (ports.AgentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &scriptedSession{id: fmt.Sprintf("%s-agent-%d", role, len(f.sessions)), script: f.script}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *scriptedFactory) totalPrompts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		n += s.promptCount()
	}
	return n
}

func writeTurn(path string) []ports.AgentEvent {
	return []ports.AgentEvent{
		{Type: ports.AgentEventTextDelta, Text: "Implementing the change."},
		{Type: ports.AgentEventToolStart, ToolCallID: "t1", ToolName: "write", Args: map[string]any{"path": path}},
		{Type: ports.AgentEventToolEnd, ToolCallID: "t1", ToolName: "write", Result: "ok"},
		{Type: ports.AgentEventTextDelta, Text: "Done: wrote " + path},
	}
}

func readOnlyTurn() []ports.AgentEvent {
	return []ports.AgentEvent{
		{Type: ports.AgentEventToolStart, ToolCallID: "t1", ToolName: "read", Args: map[string]any{"path": "README.md"}},
		{Type: ports.AgentEventToolEnd, ToolCallID: "t1", ToolName: "read", Result: "# readme"},
		{Type: ports.AgentEventTextDelta, Text: "Looks fine already."},
	}
}
