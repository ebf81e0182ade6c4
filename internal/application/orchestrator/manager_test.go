package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garymjr/beadworks/internal/application/sessions"
	"github.com/garymjr/beadworks/internal/application/workers"
	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"github.com/garymjr/beadworks/pkg/adapters/events/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	manager *Manager
	store   *sessions.Store
	pool    *workers.Pool
	tracker *fakeTracker
	factory *scriptedFactory
	bus     *memory.InMemoryEventBus
}

func newHarness(t *testing.T, script turnScript, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	bus := memory.NewInMemoryEventBus(nil)
	store := sessions.NewStore(bus, nil, nil, nil, sessions.StoreOptions{})
	factory := &scriptedFactory{script: script}
	pool := workers.NewPool(factory, nil, nil, workers.PoolOptions{})
	require.NoError(t, pool.Initialize(ctx, domain.PoolConfig{Planning: 1, Execution: 1}))

	tracker := newFakeTracker()
	manager := NewManager(store, pool, tracker, fakePrompts{}, nil, nil, nil, opts)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	})

	return &harness{manager: manager, store: store, pool: pool, tracker: tracker, factory: factory, bus: bus}
}

func (h *harness) subject(id string, subtasks ...domain.Issue) {
	h.tracker.addIssue(domain.Issue{ID: id, Title: "Parent " + id})
	for _, subtask := range subtasks {
		subtask.ParentID = id
		h.tracker.addIssue(subtask)
	}
}

func (h *harness) waitTerminal(t *testing.T, workID string) *domain.WorkSession {
	t.Helper()
	var session *domain.WorkSession
	require.Eventually(t, func() bool {
		s, err := h.store.GetSession(workID)
		if err != nil || !s.IsTerminal() {
			return false
		}
		session = s
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return session
}

func statusTrail(session *domain.WorkSession) []domain.WorkStatus {
	var trail []domain.WorkStatus
	for _, event := range session.Events {
		if data, ok := event.Data.(domain.StatusData); ok {
			trail = append(trail, data.Status)
		}
	}
	return trail
}

func scriptByID(turns map[string][]ports.AgentEvent) turnScript {
	return func(id string) ([]ports.AgentEvent, bool) {
		events, ok := turns[id]
		return events, !ok
	}
}

func TestStartWorkCompletesAllSubtasks(t *testing.T) {
	h := newHarness(t, scriptByID(map[string][]ports.AgentEvent{
		"bd-1.1": writeTurn("a.go"),
		"bd-1.2": writeTurn("b.go"),
	}), Options{})
	h.subject("bd-1",
		domain.Issue{ID: "bd-1.1", Title: "first"},
		domain.Issue{ID: "bd-1.2", Title: "second"})

	workID, err := h.manager.StartWork(context.Background(), "bd-1", StartOptions{WorkDir: "/tmp/repo"})
	require.NoError(t, err)
	assert.NotEmpty(t, workID)

	session := h.waitTerminal(t, workID)
	assert.Equal(t, domain.WorkStatusComplete, session.Status)
	require.NotNil(t, session.Result)
	assert.True(t, session.Result.Success)
	assert.Equal(t, "Completed 2 of 2 subtasks", session.Result.Summary)
	assert.Equal(t, []string{"a.go", "b.go"}, session.Result.FilesChanged)
	assert.Equal(t, 100, session.Progress)

	assert.Equal(t, []domain.WorkStatus{
		domain.WorkStatusStarting,
		domain.WorkStatusThinking,
		domain.WorkStatusAcquiring,
		domain.WorkStatusWorking,
	}, statusTrail(session))

	assert.Equal(t, domain.IssueStatusClosed, h.tracker.status("bd-1"))
	assert.Equal(t, domain.IssueStatusClosed, h.tracker.status("bd-1.1"))
	assert.Equal(t, domain.IssueStatusClosed, h.tracker.status("bd-1.2"))
	reason, ok := h.tracker.closeReason("bd-1")
	require.True(t, ok)
	assert.Contains(t, reason, "Completed 2 of 2 subtasks")
	assert.Len(t, h.tracker.commentsFor("bd-1.1"), 1)
	assert.Equal(t, []domain.IssueStatus{domain.IssueStatusInProgress}, h.tracker.statusHistory("bd-1"))

	assert.Equal(t, 0, h.pool.Stats().Roles[domain.RoleExecution].Busy)
}

func TestStartWorkContinuesAfterSubtaskFailure(t *testing.T) {
	h := newHarness(t, scriptByID(map[string][]ports.AgentEvent{
		"bd-2.1": readOnlyTurn(),
		"bd-2.2": writeTurn("c.go"),
		"bd-2.3": {{Type: ports.AgentEventTextDelta, Text: "I would change c.go"}},
	}), Options{})
	h.subject("bd-2",
		domain.Issue{ID: "bd-2.1"},
		domain.Issue{ID: "bd-2.2"},
		domain.Issue{ID: "bd-2.3"})

	workID, err := h.manager.StartWork(context.Background(), "bd-2", StartOptions{})
	require.NoError(t, err)

	session := h.waitTerminal(t, workID)
	assert.Equal(t, domain.WorkStatusComplete, session.Status)
	require.NotNil(t, session.Result)
	assert.False(t, session.Result.Success)
	assert.Equal(t, "Completed 1 of 3 subtasks", session.Result.Summary)
	assert.Equal(t, 3, h.factory.totalPrompts())

	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-2"))
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-2.1"))
	assert.Equal(t, domain.IssueStatusClosed, h.tracker.status("bd-2.2"))
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-2.3"))

	parentComments := h.tracker.commentsFor("bd-2")
	require.Len(t, parentComments, 1)
	assert.Contains(t, parentComments[0], "Failed subtasks: bd-2.1, bd-2.3")

	failNotes := h.tracker.commentsFor("bd-2.1")
	require.Len(t, failNotes, 1)
	assert.Contains(t, failNotes[0], "read-only, no changes")
	assert.Contains(t, h.tracker.commentsFor("bd-2.3")[0], "no tool use, text-only response")

	var phases []domain.StepPhase
	for _, event := range session.Events {
		if data, ok := event.Data.(domain.StepData); ok {
			phases = append(phases, data.Phase)
		}
	}
	assert.Equal(t, []domain.StepPhase{
		domain.StepStarted, domain.StepFailed,
		domain.StepStarted, domain.StepCompleted,
		domain.StepStarted, domain.StepFailed,
	}, phases)
}

func TestStartWorkWithNothingPending(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{})
	h.subject("bd-3",
		domain.Issue{ID: "bd-3.1", Status: domain.IssueStatusClosed},
		domain.Issue{ID: "bd-3.2", Status: domain.IssueStatusClosed})

	workID, err := h.manager.StartWork(context.Background(), "bd-3", StartOptions{})
	require.NoError(t, err)

	session := h.waitTerminal(t, workID)
	assert.Equal(t, domain.WorkStatusComplete, session.Status)
	assert.True(t, session.Result.Success)
	assert.Equal(t, "Nothing to do: all 2 subtasks already closed", session.Result.Summary)
	assert.Equal(t, domain.IssueStatusClosed, h.tracker.status("bd-3"))
	assert.Equal(t, 0, h.factory.totalPrompts())
}

func TestStartWorkRejectsSecondActiveSession(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{})
	h.tracker.gate = make(chan struct{})
	h.subject("bd-4", domain.Issue{ID: "bd-4.1", Status: domain.IssueStatusClosed})

	workID, err := h.manager.StartWork(context.Background(), "bd-4", StartOptions{})
	require.NoError(t, err)

	_, err = h.manager.StartWork(context.Background(), "bd-4", StartOptions{})
	assert.ErrorIs(t, err, domain.ErrActiveSession)

	active := h.manager.GetAllActiveWork()
	require.Len(t, active, 1)
	assert.Equal(t, workID, active[0].ID)

	close(h.tracker.gate)
	h.waitTerminal(t, workID)
}

func TestStartWorkFailsWhenSubjectCannotBeMarked(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{})
	h.subject("bd-5")
	h.tracker.updateErr = errors.New("database locked")

	_, err := h.manager.StartWork(context.Background(), "bd-5", StartOptions{})
	require.Error(t, err)

	session := h.manager.GetWorkStatus("bd-5")
	require.NotNil(t, session)
	assert.Equal(t, domain.WorkStatusError, session.Status)
	assert.Empty(t, h.manager.GetAllActiveWork())
}

func TestProcessingFailureErrorsSessionAndReopensSubject(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{})
	h.subject("bd-6", domain.Issue{ID: "bd-6.1"})
	h.tracker.subtasksErr = &domain.CommandError{Command: "bd", ExitCode: 2, Stderr: "corrupt database"}

	workID, err := h.manager.StartWork(context.Background(), "bd-6", StartOptions{})
	require.NoError(t, err)

	session := h.waitTerminal(t, workID)
	assert.Equal(t, domain.WorkStatusError, session.Status)
	require.NotNil(t, session.Error)
	assert.True(t, session.Error.Recoverable)
	assert.True(t, session.Error.CanRetry)
	assert.Contains(t, session.Error.Message, "corrupt database")

	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-6"))
	comments := h.tracker.commentsFor("bd-6")
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "Completed: 0, failed: 0")
}

func TestTurnTimeoutFailsOnlyThatSubtask(t *testing.T) {
	h := newHarness(t, scriptByID(map[string][]ports.AgentEvent{
		"bd-7.2": writeTurn("d.go"),
	}), Options{TurnTimeout: 100 * time.Millisecond})
	h.subject("bd-7", domain.Issue{ID: "bd-7.1"}, domain.Issue{ID: "bd-7.2"})

	workID, err := h.manager.StartWork(context.Background(), "bd-7", StartOptions{})
	require.NoError(t, err)

	session := h.waitTerminal(t, workID)
	assert.Equal(t, "Completed 1 of 2 subtasks", session.Result.Summary)
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-7.1"))
	assert.Contains(t, h.tracker.commentsFor("bd-7.1")[0], "did not finish its turn")
	assert.Equal(t, domain.IssueStatusClosed, h.tracker.status("bd-7.2"))
}

func TestAcquireTimeoutErrorsSession(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{AcquireTimeout: 100 * time.Millisecond})
	h.subject("bd-8", domain.Issue{ID: "bd-8.1"})

	holder, err := h.pool.Acquire(context.Background(), domain.RoleExecution, "other-work", time.Second)
	require.NoError(t, err)
	defer h.pool.Release(holder.ID())

	workID, err := h.manager.StartWork(context.Background(), "bd-8", StartOptions{})
	require.NoError(t, err)

	session := h.waitTerminal(t, workID)
	assert.Equal(t, domain.WorkStatusError, session.Status)
	assert.Contains(t, session.Error.Message, "failed to acquire worker")
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-8"))
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-8.1"))
}

func TestCancelWorkStopsBeforeNextSubtask(t *testing.T) {
	h := newHarness(t, scriptByID(map[string][]ports.AgentEvent{
		"bd-9.1": writeTurn("e.go"),
	}), Options{})
	h.tracker.gate = make(chan struct{})
	h.subject("bd-9", domain.Issue{ID: "bd-9.1"})

	workID, err := h.manager.StartWork(context.Background(), "bd-9", StartOptions{})
	require.NoError(t, err)

	require.NoError(t, h.manager.CancelWork("bd-9"))
	close(h.tracker.gate)

	require.Eventually(t, func() bool {
		comments := h.tracker.commentsFor("bd-9")
		return len(comments) == 1
	}, 5*time.Second, 10*time.Millisecond)

	session, err := h.manager.GetSession(workID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkStatusCancelled, session.Status)
	assert.Equal(t, 0, h.factory.totalPrompts())
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-9"))
	assert.Contains(t, h.tracker.commentsFor("bd-9")[0], "Work cancelled after 0 of 1 subtasks")

	assert.ErrorIs(t, h.manager.CancelWork("bd-9"), domain.ErrSessionNotFound)
}

func TestCancelWorkStopsWaitingForWorker(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{AcquireTimeout: time.Minute})
	h.subject("bd-11", domain.Issue{ID: "bd-11.1"}, domain.Issue{ID: "bd-11.2"})

	holder, err := h.pool.Acquire(context.Background(), domain.RoleExecution, "other-work", time.Second)
	require.NoError(t, err)
	defer h.pool.Release(holder.ID())

	workID, err := h.manager.StartWork(context.Background(), "bd-11", StartOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, err := h.store.GetSession(workID)
		return err == nil && session.Status == domain.WorkStatusAcquiring
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.manager.CancelWork("bd-11"))

	require.Eventually(t, func() bool {
		return len(h.tracker.commentsFor("bd-11")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	session, err := h.store.GetSession(workID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkStatusCancelled, session.Status)
	assert.Nil(t, session.Error)
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-11"))
	comments := h.tracker.commentsFor("bd-11")
	assert.Equal(t, "Work cancelled after 0 of 2 subtasks", comments[0])
	assert.NotContains(t, comments[0], "Work failed")
	assert.Equal(t, 0, h.factory.totalPrompts())
}

func TestCancelDuringLastSubtaskKeepsParentOpen(t *testing.T) {
	h := newHarness(t, scriptByID(map[string][]ports.AgentEvent{
		"bd-12.1": writeTurn("f.go"),
	}), Options{})
	h.subject("bd-12", domain.Issue{ID: "bd-12.1"})
	h.tracker.onClose = func(id string) {
		if id == "bd-12.1" {
			assert.NoError(t, h.manager.CancelWork("bd-12"))
		}
	}

	workID, err := h.manager.StartWork(context.Background(), "bd-12", StartOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.tracker.commentsFor("bd-12")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	session, err := h.store.GetSession(workID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkStatusCancelled, session.Status)
	assert.Equal(t, domain.IssueStatusClosed, h.tracker.status("bd-12.1"))
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-12"))
	_, closed := h.tracker.closeReason("bd-12")
	assert.False(t, closed)
	assert.Equal(t, "Work cancelled after 1 of 1 subtasks", h.tracker.commentsFor("bd-12")[0])
}

func TestShutdownWaitsForRunningWork(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{})
	h.tracker.gate = make(chan struct{})
	h.subject("bd-10")

	workID, err := h.manager.StartWork(context.Background(), "bd-10", StartOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.manager.Shutdown(ctx), context.DeadlineExceeded)

	session, err := h.store.GetSession(workID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkStatusError, session.Status)
	assert.Equal(t, domain.IssueStatusOpen, h.tracker.status("bd-10"))
}

func TestReadOnlyProjections(t *testing.T) {
	h := newHarness(t, scriptByID(nil), Options{})

	assert.Nil(t, h.manager.GetWorkStatus("unknown"))
	_, err := h.manager.GetSession("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	stats := h.manager.PoolStats()
	assert.True(t, stats.Initialized)
	assert.Equal(t, 1, stats.Roles[domain.RoleExecution].Total)
	assert.Len(t, h.manager.Workers(), 2)
}
