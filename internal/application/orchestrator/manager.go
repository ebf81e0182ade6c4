package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/garymjr/beadworks/internal/application/sessions"
	"github.com/garymjr/beadworks/internal/application/workers"
	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultAcquireTimeout = 5 * time.Minute
	DefaultTurnTimeout    = 10 * time.Minute

	// trackerTimeout bounds the recovery calls made after the work context is gone
	trackerTimeout = 30 * time.Second
	maxNoteOutput  = 2000
)

// Options holds the manager's default timeouts
type Options struct {
	AcquireTimeout time.Duration
	TurnTimeout    time.Duration
}

// StartOptions tunes a single work session. Zero timeouts fall back to the manager defaults.
type StartOptions struct {
	WorkDir        string        `json:"workDir,omitempty"`
	AcquireTimeout time.Duration `json:"acquireTimeout,omitempty"`
	TurnTimeout    time.Duration `json:"turnTimeout,omitempty"`
}

// Manager coordinates work sessions
type Manager struct {
	store     *sessions.Store
	pool      *workers.Pool
	tracker   ports.Tracker
	prompts   ports.PromptBuilder
	validator *Validator
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	tracer    trace.Tracer
	opts      Options

	// baseCtx outlives request contexts; it is cancelled only when shutdown gives up waiting
	baseCtx    context.Context
	cancelBase context.CancelFunc
	running    sync.WaitGroup

	// waits holds the cancel func of each run blocked on a worker, keyed by work id
	waitsMu sync.Mutex
	waits   map[string]context.CancelFunc
}

// workRun is the mutable state of one background processing run
type workRun struct {
	workID    string
	subjectID string
	opts      StartOptions

	total     int
	completed int
	failed    []string
	files     []string
	seenFiles map[string]bool
	summaries []string
}

func (r *workRun) mergeFiles(files []string) {
	for _, f := range files {
		if !r.seenFiles[f] {
			r.seenFiles[f] = true
			r.files = append(r.files, f)
		}
	}
}

// NewManager creates a new orchestrator manager
func NewManager(
	store *sessions.Store,
	pool *workers.Pool,
	tracker ports.Tracker,
	prompts ports.PromptBuilder,
	validator *Validator,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	opts Options,
) *Manager {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if validator == nil {
		validator = NewValidator()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:      store,
		pool:       pool,
		tracker:    tracker,
		prompts:    prompts,
		validator:  validator,
		metrics:    metrics,
		logger:     logger,
		tracer:     otel.Tracer("github.com/garymjr/beadworks/orchestrator"),
		opts:       opts,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		waits:      make(map[string]context.CancelFunc),
	}
}

// StartWork creates a work session for the subject, marks it in progress and
// processes it in the background. It returns the new work id without waiting.
func (m *Manager) StartWork(ctx context.Context, subjectID string, opts StartOptions) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("subject id is required")
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = m.opts.AcquireTimeout
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = m.opts.TurnTimeout
	}

	session, err := m.store.CreateSession(subjectID, opts.WorkDir)
	if err != nil {
		return "", err
	}

	if _, err := m.tracker.Update(ctx, subjectID, ports.UpdateIssueRequest{Status: domain.IssueStatusInProgress}); err != nil {
		m.logger.Error("failed to mark subject in progress",
			zap.String("subject_id", subjectID),
			zap.String("work_id", session.ID),
			zap.Error(err))
		_ = m.store.ErrorSession(session.ID, fmt.Sprintf("failed to mark subject in progress: %v", err), true, true)
		return "", fmt.Errorf("failed to mark subject in progress: %w", err)
	}

	run := &workRun{
		workID:    session.ID,
		subjectID: subjectID,
		opts:      opts,
		seenFiles: make(map[string]bool),
	}

	m.running.Add(1)
	go m.process(run)

	m.logger.Info("work started",
		zap.String("subject_id", subjectID),
		zap.String("work_id", session.ID))
	return session.ID, nil
}

// process runs a work session to completion. Nothing escapes it: every
// failure ends with the session errored and the subject reopened.
func (m *Manager) process(run *workRun) {
	defer m.running.Done()

	ctx, span := m.tracer.Start(m.baseCtx, "orchestrator.work",
		trace.WithAttributes(
			attribute.String("subject.id", run.subjectID),
			attribute.String("work.id", run.workID)))
	defer span.End()

	if err := m.safeExecute(ctx, run); err != nil {
		if m.cancelled(run) {
			_ = m.finishCancelled(run)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.fail(run, err)
	}
}

func (m *Manager) safeExecute(ctx context.Context, run *workRun) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during work processing: %v", p)
		}
	}()
	return m.execute(ctx, run)
}

func (m *Manager) execute(ctx context.Context, run *workRun) error {
	m.setStatus(run, domain.WorkStatusThinking, "Loading subtasks")

	parent, err := m.tracker.Show(ctx, run.subjectID)
	if err != nil {
		return fmt.Errorf("failed to load subject: %w", err)
	}

	subtasks, _, err := m.tracker.Subtasks(ctx, run.subjectID)
	if err != nil {
		return fmt.Errorf("failed to load subtasks: %w", err)
	}

	pending := make([]domain.Issue, 0, len(subtasks))
	for _, subtask := range subtasks {
		if !subtask.Closed() {
			pending = append(pending, subtask)
		}
	}
	run.total = len(pending)

	if len(pending) == 0 {
		summary := fmt.Sprintf("Nothing to do: all %d subtasks already closed", len(subtasks))
		if err := m.tracker.Close(ctx, run.subjectID, summary); err != nil {
			return fmt.Errorf("failed to close subject: %w", err)
		}
		_ = m.store.CompleteSession(run.workID, true, summary, nil)
		return nil
	}

	worker, err := m.acquire(ctx, run)
	if err != nil {
		if m.cancelled(run) {
			return m.finishCancelled(run)
		}
		return fmt.Errorf("failed to acquire worker: %w", err)
	}
	if worker == nil {
		return m.finishCancelled(run)
	}
	defer m.pool.Release(worker.ID())

	m.setStatus(run, domain.WorkStatusWorking, fmt.Sprintf("Worker %s assigned", worker.ID()))
	m.progress(run, 0, fmt.Sprintf("Subtask 1/%d", run.total))

	for i, subtask := range pending {
		if m.cancelled(run) {
			break
		}
		m.runSubtask(ctx, run, worker, *parent, subtask, i)
		m.progress(run, (i+1)*100/run.total, fmt.Sprintf("Subtask %d/%d", i+1, run.total))
	}
	return m.finish(ctx, run)
}

// acquire waits for an execution worker. The wait is registered before the
// cancelled check so CancelWork either sees it or is seen by it. A nil worker
// with a nil error means the run was cancelled first.
func (m *Manager) acquire(ctx context.Context, run *workRun) (*workers.Worker, error) {
	ctx, stop := context.WithCancel(ctx)
	m.waitsMu.Lock()
	m.waits[run.workID] = stop
	m.waitsMu.Unlock()
	defer func() {
		m.waitsMu.Lock()
		delete(m.waits, run.workID)
		m.waitsMu.Unlock()
		stop()
	}()

	if m.cancelled(run) {
		return nil, nil
	}
	m.setStatus(run, domain.WorkStatusAcquiring, "Waiting for an execution worker")
	return m.pool.Acquire(ctx, domain.RoleExecution, run.workID, run.opts.AcquireTimeout)
}

// runSubtask attempts one subtask. Failures are recorded on the run and the tracker, never returned.
func (m *Manager) runSubtask(ctx context.Context, run *workRun, worker *workers.Worker, parent, subtask domain.Issue, index int) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "orchestrator.subtask",
		trace.WithAttributes(
			attribute.String("subtask.id", subtask.ID),
			attribute.Int("subtask.index", index)))
	defer span.End()

	m.step(run, domain.StepData{
		SubtaskID: subtask.ID,
		Title:     subtask.Title,
		Phase:     domain.StepStarted,
		Message:   fmt.Sprintf("Starting subtask %d/%d", index+1, run.total),
	})

	result, err := m.attemptSubtask(ctx, run, worker, parent, subtask)
	if err == nil {
		run.completed++
		run.mergeFiles(result.FilesChanged)
		if result.Output != "" {
			run.summaries = append(run.summaries, fmt.Sprintf("%s: %s", subtask.ID, firstLine(result.Output)))
		}
		m.step(run, domain.StepData{
			SubtaskID:    subtask.ID,
			Title:        subtask.Title,
			Phase:        domain.StepCompleted,
			Message:      "Subtask completed",
			ToolsUsed:    result.ToolsUsed,
			FilesChanged: result.FilesChanged,
		})
		m.metrics.RecordSubtask("completed", time.Since(start))
		m.logger.Info("subtask completed",
			zap.String("work_id", run.workID),
			zap.String("subtask_id", subtask.ID),
			zap.Strings("files_changed", result.FilesChanged))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	run.failed = append(run.failed, subtask.ID)

	m.logger.Warn("subtask failed",
		zap.String("work_id", run.workID),
		zap.String("subtask_id", subtask.ID),
		zap.Error(err))

	rctx, cancel := recoveryContext()
	defer cancel()
	if _, uerr := m.tracker.Update(rctx, subtask.ID, ports.UpdateIssueRequest{Status: domain.IssueStatusOpen}); uerr != nil {
		m.logger.Error("failed to reopen subtask", zap.String("subtask_id", subtask.ID), zap.Error(uerr))
	}
	if cerr := m.tracker.AddComment(rctx, subtask.ID, failureNote(err, result)); cerr != nil {
		m.logger.Error("failed to comment on subtask", zap.String("subtask_id", subtask.ID), zap.Error(cerr))
	}

	step := domain.StepData{
		SubtaskID: subtask.ID,
		Title:     subtask.Title,
		Phase:     domain.StepFailed,
		Message:   err.Error(),
	}
	if result != nil {
		step.ToolsUsed = result.ToolsUsed
		step.FilesChanged = result.FilesChanged
	}
	m.step(run, step)
	m.metrics.RecordSubtask("failed", time.Since(start))
}

func (m *Manager) attemptSubtask(ctx context.Context, run *workRun, worker *workers.Worker, parent, subtask domain.Issue) (*TurnResult, error) {
	if _, err := m.tracker.Update(ctx, subtask.ID, ports.UpdateIssueRequest{Status: domain.IssueStatusInProgress}); err != nil {
		return nil, fmt.Errorf("failed to mark subtask in progress: %w", err)
	}

	prompt, err := m.prompts.SubtaskPrompt(parent, subtask)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	result, err := runTurn(ctx, worker.Session(), ports.PromptRequest{Text: prompt, WorkDir: run.opts.WorkDir}, run.opts.TurnTimeout)
	if err != nil {
		return result, err
	}

	verdict := m.validator.Validate(result.ToolsUsed, result.FilesChanged, result.ToolErrors)
	if !verdict.Valid {
		return result, &domain.ValidationFailure{SubtaskID: subtask.ID, Reason: verdict.Reason}
	}

	if err := m.tracker.AddComment(ctx, subtask.ID, completionNote(result)); err != nil {
		return result, fmt.Errorf("failed to post completion note: %w", err)
	}
	if err := m.tracker.Close(ctx, subtask.ID, "Completed"); err != nil {
		return result, fmt.Errorf("failed to close subtask: %w", err)
	}
	return result, nil
}

// finish reconciles the parent subject once every subtask was attempted
func (m *Manager) finish(ctx context.Context, run *workRun) error {
	// a cancel that landed during the last subtask still keeps the parent open
	if m.cancelled(run) {
		return m.finishCancelled(run)
	}
	summary := fmt.Sprintf("Completed %d of %d subtasks", run.completed, run.total)

	if len(run.failed) == 0 {
		reason := summary
		if len(run.summaries) > 0 {
			reason = summary + "\n\n" + strings.Join(run.summaries, "\n")
		}
		if err := m.tracker.Close(ctx, run.subjectID, reason); err != nil {
			return fmt.Errorf("failed to close subject: %w", err)
		}
		_ = m.store.CompleteSession(run.workID, true, summary, run.files)
		return nil
	}

	if _, err := m.tracker.Update(ctx, run.subjectID, ports.UpdateIssueRequest{Status: domain.IssueStatusOpen}); err != nil {
		m.logger.Error("failed to reopen subject", zap.String("subject_id", run.subjectID), zap.Error(err))
	}
	note := fmt.Sprintf("%s\n\nFailed subtasks: %s", summary, strings.Join(run.failed, ", "))
	if err := m.tracker.AddComment(ctx, run.subjectID, note); err != nil {
		m.logger.Error("failed to comment on subject", zap.String("subject_id", run.subjectID), zap.Error(err))
	}
	_ = m.store.CompleteSession(run.workID, false, summary, run.files)
	return nil
}

// finishCancelled returns the subject to open after a cooperative cancel
func (m *Manager) finishCancelled(run *workRun) error {
	rctx, cancel := recoveryContext()
	defer cancel()

	if _, err := m.tracker.Update(rctx, run.subjectID, ports.UpdateIssueRequest{Status: domain.IssueStatusOpen}); err != nil {
		m.logger.Error("failed to reopen cancelled subject", zap.String("subject_id", run.subjectID), zap.Error(err))
	}
	note := fmt.Sprintf("Work cancelled after %d of %d subtasks", run.completed, run.total)
	if err := m.tracker.AddComment(rctx, run.subjectID, note); err != nil {
		m.logger.Error("failed to comment on cancelled subject", zap.String("subject_id", run.subjectID), zap.Error(err))
	}
	m.logger.Info("work cancelled",
		zap.String("subject_id", run.subjectID),
		zap.String("work_id", run.workID),
		zap.Int("completed", run.completed))
	return nil
}

// fail records a session-level failure and makes sure the subject is not left in progress
func (m *Manager) fail(run *workRun, cause error) {
	m.logger.Error("work failed",
		zap.String("subject_id", run.subjectID),
		zap.String("work_id", run.workID),
		zap.Int("completed", run.completed),
		zap.Int("failed", len(run.failed)),
		zap.Error(cause))

	_ = m.store.ErrorSession(run.workID, cause.Error(), true, true)

	rctx, cancel := recoveryContext()
	defer cancel()
	if _, err := m.tracker.Update(rctx, run.subjectID, ports.UpdateIssueRequest{Status: domain.IssueStatusOpen}); err != nil {
		m.logger.Error("failed to reopen subject after failure", zap.String("subject_id", run.subjectID), zap.Error(err))
	}
	note := fmt.Sprintf("Work failed: %v\n\nCompleted: %d, failed: %d, total: %d",
		cause, run.completed, len(run.failed), run.total)
	if err := m.tracker.AddComment(rctx, run.subjectID, note); err != nil {
		m.logger.Error("failed to comment on subject after failure", zap.String("subject_id", run.subjectID), zap.Error(err))
	}
}

// CancelWork cancels the subject's active session. An agent turn already in
// flight runs to completion; no further subtasks are started and a run still
// waiting for a worker stops waiting.
func (m *Manager) CancelWork(subjectID string) error {
	session := m.store.GetActiveSession(subjectID)
	if session == nil {
		return fmt.Errorf("%w: no active work for %s", domain.ErrSessionNotFound, subjectID)
	}
	if err := m.store.CancelSession(session.ID); err != nil {
		return err
	}
	m.waitsMu.Lock()
	if stop, ok := m.waits[session.ID]; ok {
		stop()
	}
	m.waitsMu.Unlock()
	m.logger.Info("work cancellation requested",
		zap.String("subject_id", subjectID),
		zap.String("work_id", session.ID))
	return nil
}

// GetWorkStatus returns the subject's active session, else its most recent one, or nil
func (m *Manager) GetWorkStatus(subjectID string) *domain.WorkSession {
	return m.store.LatestSession(subjectID)
}

// GetSession returns a session by work id
func (m *Manager) GetSession(workID string) (*domain.WorkSession, error) {
	return m.store.GetSession(workID)
}

// GetAllActiveWork returns every non-terminal session
func (m *Manager) GetAllActiveWork() []*domain.WorkSession {
	return m.store.GetActiveSessions()
}

// PoolStats returns per-role worker counts
func (m *Manager) PoolStats() domain.PoolStats {
	return m.pool.Stats()
}

// Workers returns a snapshot of every pooled worker
func (m *Manager) Workers() []domain.WorkerInfo {
	return m.pool.Workers()
}

// Shutdown waits for in-flight work. When ctx expires first, running work is
// interrupted and Shutdown waits for it to record its failure.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancelBase()
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		m.cancelBase()
		<-done
		m.logger.Warn("orchestrator manager interrupted in-flight work")
		return ctx.Err()
	}
}

func (m *Manager) setStatus(run *workRun, status domain.WorkStatus, message string) {
	m.ignoreTerminal(run, m.store.UpdateStatus(run.workID, status, message))
}

func (m *Manager) progress(run *workRun, percent int, step string) {
	m.ignoreTerminal(run, m.store.UpdateProgress(run.workID, percent, step, run.total))
}

func (m *Manager) step(run *workRun, step domain.StepData) {
	m.ignoreTerminal(run, m.store.AddStepEvent(run.workID, step))
}

// ignoreTerminal drops updates rejected because the session was cancelled meanwhile
func (m *Manager) ignoreTerminal(run *workRun, err error) {
	if err == nil || errors.Is(err, domain.ErrSessionTerminal) {
		return
	}
	m.logger.Warn("failed to record session update",
		zap.String("work_id", run.workID),
		zap.Error(err))
}

func (m *Manager) cancelled(run *workRun) bool {
	session, err := m.store.GetSession(run.workID)
	return err == nil && session.Status == domain.WorkStatusCancelled
}

func recoveryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), trackerTimeout)
}

func completionNote(result *TurnResult) string {
	var b strings.Builder
	b.WriteString("Completed by beadworks.")
	if len(result.ToolsUsed) > 0 {
		fmt.Fprintf(&b, "\n\nTools used: %s", strings.Join(result.ToolsUsed, ", "))
	}
	if len(result.FilesChanged) > 0 {
		fmt.Fprintf(&b, "\nFiles changed: %s", strings.Join(result.FilesChanged, ", "))
	}
	if result.Output != "" {
		fmt.Fprintf(&b, "\n\n%s", truncate(result.Output, maxNoteOutput))
	}
	return b.String()
}

func failureNote(err error, result *TurnResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work attempt failed: %v", err)
	if result != nil {
		if len(result.ToolsUsed) > 0 {
			fmt.Fprintf(&b, "\n\nTools used: %s", strings.Join(result.ToolsUsed, ", "))
		}
		if len(result.ToolErrors) > 0 {
			fmt.Fprintf(&b, "\nTool errors:\n- %s", strings.Join(result.ToolErrors, "\n- "))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), 200)
}
