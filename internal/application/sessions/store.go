package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRetention       = time.Hour
	DefaultFlushInterval   = 5 * time.Second
	DefaultCleanupInterval = 5 * time.Minute
)

// StoreOptions tunes retention and persistence
type StoreOptions struct {
	Retention       time.Duration
	FlushInterval   time.Duration
	CleanupInterval time.Duration
	Now             func() time.Time
}

func (o *StoreOptions) applyDefaults() {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Store is the process-wide work-session table
type Store struct {
	bus       ports.EventBus
	snapshots ports.SnapshotStore
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	opts      StoreOptions

	mu       sync.RWMutex
	sessions map[string]*domain.WorkSession
	order    []string

	// emitMu is taken before mu is released so bus emission follows log order
	emitMu sync.Mutex

	flushMu sync.Mutex
	dirty   chan struct{}

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewStore creates an empty store. snapshots may be nil to disable persistence.
func NewStore(bus ports.EventBus, snapshots ports.SnapshotStore, metrics ports.MetricsCollector, logger *zap.Logger, opts StoreOptions) *Store {
	opts.applyDefaults()
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		bus:       bus,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		sessions:  make(map[string]*domain.WorkSession),
		dirty:     make(chan struct{}, 1),
	}
}

// Start restores the last snapshot and launches the flush and cleanup loops
func (s *Store) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.stopCh != nil {
		return nil
	}

	s.restore(ctx)

	s.stopCh = make(chan struct{})
	s.wg.Add(2)
	go s.flushLoop(s.stopCh)
	go s.cleanupLoop(s.stopCh)

	s.logger.Info("session store started",
		zap.Duration("retention", s.opts.Retention),
		zap.Duration("flush_interval", s.opts.FlushInterval))
	return nil
}

// Stop halts the background loops and writes a final snapshot
func (s *Store) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.stopCh == nil {
		s.lifecycleMu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.stopCh = nil
	s.lifecycleMu.Unlock()

	s.wg.Wait()
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.logger.Info("session store stopped")
	return nil
}

// CreateSession inserts a new session in starting status for the subject.
// It fails with ErrActiveSession when the subject already has non-terminal work.
func (s *Store) CreateSession(subjectID, workDir string) (*domain.WorkSession, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	s.mu.Lock()
	if active := s.activeLocked(subjectID); active != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (work %s)", domain.ErrActiveSession, subjectID, active.ID)
	}

	session := &domain.WorkSession{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		WorkDir:   workDir,
		Status:    domain.WorkStatusStarting,
		StartedAt: s.opts.Now(),
		Events:    []domain.Event{},
	}
	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	created := session.Clone()
	active := s.activeCountLocked()

	s.publishLocked(session, s.newEvent(session, domain.EventTypeStatus, domain.StatusData{
		Status:  domain.WorkStatusStarting,
		Message: "work session created",
	}))
	s.metrics.SetActiveSessions(active)

	s.logger.Info("work session created",
		zap.String("work_id", created.ID),
		zap.String("subject_id", subjectID))
	return created, nil
}

// GetSession returns a copy of the session or ErrSessionNotFound
func (s *Store) GetSession(workID string) (*domain.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[workID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, workID)
	}
	return session.Clone(), nil
}

// GetActiveSession returns the subject's non-terminal session, or nil
func (s *Store) GetActiveSession(subjectID string) *domain.WorkSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(subjectID).Clone()
}

// GetActiveSessions returns every non-terminal session in start order
func (s *Store) GetActiveSessions() []*domain.WorkSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.WorkSession, 0)
	for _, id := range s.order {
		if session := s.sessions[id]; !session.IsTerminal() {
			out = append(out, session.Clone())
		}
	}
	return out
}

// LatestSession returns the subject's active session, else its most recent retained one, or nil
func (s *Store) LatestSession(subjectID string) *domain.WorkSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(subjectID).Clone()
}

// UpdateStatus moves a session to a non-terminal status
func (s *Store) UpdateStatus(workID string, status domain.WorkStatus, message string) error {
	if status.IsTerminal() {
		return fmt.Errorf("status %s is terminal; use the dedicated transition", status)
	}

	s.mu.Lock()
	session, err := s.mutableLocked(workID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	session.Status = status
	s.publishLocked(session, s.newEvent(session, domain.EventTypeStatus, domain.StatusData{
		Status:  status,
		Message: message,
	}))
	return nil
}

// UpdateProgress records progress. Percent is clamped to [0, 100]; totalSteps <= 0 leaves the total unchanged.
func (s *Store) UpdateProgress(workID string, percent int, currentStep string, totalSteps int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	s.mu.Lock()
	session, err := s.mutableLocked(workID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	session.Progress = percent
	session.CurrentStep = currentStep
	if totalSteps > 0 {
		session.TotalSteps = totalSteps
	}
	s.publishLocked(session, s.newEvent(session, domain.EventTypeProgress, domain.ProgressData{
		Percent:     percent,
		CurrentStep: currentStep,
		TotalSteps:  session.TotalSteps,
	}))
	return nil
}

// AddStepEvent appends a step event to the session log
func (s *Store) AddStepEvent(workID string, step domain.StepData) error {
	s.mu.Lock()
	session, err := s.mutableLocked(workID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	step.ToolsUsed = append([]string(nil), step.ToolsUsed...)
	step.FilesChanged = append([]string(nil), step.FilesChanged...)
	s.publishLocked(session, s.newEvent(session, domain.EventTypeStep, step))
	return nil
}

// CompleteSession finishes a session with a result. Unknown or finished sessions are ignored.
func (s *Store) CompleteSession(workID string, success bool, summary string, filesChanged []string) error {
	files := append([]string{}, filesChanged...)
	return s.finish(workID, domain.WorkStatusComplete, func(session *domain.WorkSession) domain.Event {
		session.Result = &domain.WorkResult{Success: success, Summary: summary, FilesChanged: files}
		if success {
			session.Progress = 100
		}
		return s.newEvent(session, domain.EventTypeComplete, domain.CompleteData{
			Success:      success,
			Summary:      summary,
			FilesChanged: append([]string{}, files...),
		})
	})
}

// ErrorSession finishes a session with an error record. Unknown or finished sessions are ignored.
func (s *Store) ErrorSession(workID, message string, recoverable, canRetry bool) error {
	return s.finish(workID, domain.WorkStatusError, func(session *domain.WorkSession) domain.Event {
		session.Error = &domain.WorkError{Message: message, Recoverable: recoverable, CanRetry: canRetry}
		return s.newEvent(session, domain.EventTypeError, domain.ErrorData{
			Message:     message,
			Recoverable: recoverable,
			CanRetry:    canRetry,
		})
	})
}

// CancelSession finishes a session as cancelled. Unknown or finished sessions are ignored.
func (s *Store) CancelSession(workID string) error {
	return s.finish(workID, domain.WorkStatusCancelled, func(session *domain.WorkSession) domain.Event {
		return s.newEvent(session, domain.EventTypeStatus, domain.StatusData{
			Status:  domain.WorkStatusCancelled,
			Message: "work cancelled",
		})
	})
}

func (s *Store) finish(workID string, status domain.WorkStatus, apply func(*domain.WorkSession) domain.Event) error {
	s.mu.Lock()
	session, ok := s.sessions[workID]
	if !ok || session.IsTerminal() {
		s.mu.Unlock()
		s.logger.Debug("ignoring terminal transition",
			zap.String("work_id", workID),
			zap.String("status", string(status)),
			zap.Bool("found", ok))
		return nil
	}

	now := s.opts.Now()
	session.Status = status
	session.EndedAt = &now
	event := apply(session)
	duration := now.Sub(session.StartedAt)
	success := session.Result != nil && session.Result.Success
	subjectID := session.SubjectID
	active := s.activeCountLocked()

	s.publishLocked(session, event)

	s.metrics.SetActiveSessions(active)
	s.metrics.RecordSessionFinished(status, success, duration)
	s.logger.Info("work session finished",
		zap.String("work_id", workID),
		zap.String("subject_id", subjectID),
		zap.String("status", string(status)),
		zap.Bool("success", success),
		zap.Duration("duration", duration))
	return nil
}

// Cleanup drops terminal sessions that ended more than the retention window ago
func (s *Store) Cleanup() int {
	cutoff := s.opts.Now().Add(-s.opts.Retention)

	s.mu.Lock()
	removed := s.dropExpiredLocked(cutoff)
	s.mu.Unlock()

	if removed > 0 {
		s.markDirty()
		s.logger.Info("cleaned up expired work sessions", zap.Int("removed", removed))
	}
	return removed
}

// Watch atomically captures the subject's latest session and subscribes the
// listener to the bus, so the listener sees exactly the events logged after the capture.
func (s *Store) Watch(subjectID string, listener ports.Listener) (*domain.WorkSession, func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	snapshot := s.latestLocked(subjectID).Clone()
	if s.bus == nil {
		return snapshot, func() {}
	}
	return snapshot, s.bus.Subscribe(listener)
}

// newEvent builds an event for the session stamped with the store clock
func (s *Store) newEvent(session *domain.WorkSession, eventType domain.EventType, data any) domain.Event {
	return domain.Event{
		Type:      eventType,
		SubjectID: session.SubjectID,
		WorkID:    session.ID,
		Timestamp: s.opts.Now(),
		Data:      data,
	}
}

// publishLocked appends the event to the session log, releases mu and emits.
// The caller must hold mu for writing; it is unlocked on return.
func (s *Store) publishLocked(session *domain.WorkSession, event domain.Event) {
	session.Events = append(session.Events, event)

	s.emitMu.Lock()
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Emit(event)
	}
	s.emitMu.Unlock()

	s.markDirty()
}

func (s *Store) mutableLocked(workID string) (*domain.WorkSession, error) {
	session, ok := s.sessions[workID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, workID)
	}
	if session.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrSessionTerminal, workID, session.Status)
	}
	return session, nil
}

func (s *Store) activeLocked(subjectID string) *domain.WorkSession {
	for _, id := range s.order {
		session := s.sessions[id]
		if session.SubjectID == subjectID && !session.IsTerminal() {
			return session
		}
	}
	return nil
}

func (s *Store) latestLocked(subjectID string) *domain.WorkSession {
	if active := s.activeLocked(subjectID); active != nil {
		return active
	}
	var latest *domain.WorkSession
	for _, id := range s.order {
		session := s.sessions[id]
		if session.SubjectID != subjectID {
			continue
		}
		if latest == nil || !session.StartedAt.Before(latest.StartedAt) {
			latest = session
		}
	}
	return latest
}

func (s *Store) activeCountLocked() int {
	n := 0
	for _, session := range s.sessions {
		if !session.IsTerminal() {
			n++
		}
	}
	return n
}

func (s *Store) dropExpiredLocked(cutoff time.Time) int {
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		session := s.sessions[id]
		if session.IsTerminal() && session.EndedAt != nil && session.EndedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// snapshotLocked returns the table as ordered (workId, session) entries
func (s *Store) snapshotLocked() []ports.SessionEntry {
	entries := make([]ports.SessionEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, ports.SessionEntry{WorkID: id, Session: s.sessions[id].Clone()})
	}
	return entries
}

// restore loads the last snapshot, dropping expired sessions and failing
// sessions that were still running when the previous process stopped
func (s *Store) restore(ctx context.Context) {
	if s.snapshots == nil {
		return
	}

	entries, err := s.snapshots.Load(ctx)
	if err != nil {
		perr := &domain.PersistenceError{Op: "load", Err: err}
		s.metrics.RecordPersistence("load", "failure")
		s.logger.Error("failed to load session snapshot, starting empty", zap.Error(perr))
		return
	}
	s.metrics.RecordPersistence("load", "success")

	now := s.opts.Now()
	cutoff := now.Add(-s.opts.Retention)
	changed := false

	s.mu.Lock()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Session != nil && entries[j].Session != nil &&
			entries[i].Session.StartedAt.Before(entries[j].Session.StartedAt)
	})
	for _, entry := range entries {
		session := entry.Session
		if session == nil {
			changed = true
			continue
		}
		if session.ID == "" {
			session.ID = entry.WorkID
		}
		if _, dup := s.sessions[session.ID]; dup {
			changed = true
			continue
		}
		if session.IsTerminal() {
			if session.EndedAt != nil && session.EndedAt.Before(cutoff) {
				changed = true
				continue
			}
		} else {
			s.interruptLocked(session, now)
			changed = true
		}
		if session.Events == nil {
			session.Events = []domain.Event{}
		}
		s.sessions[session.ID] = session
		s.order = append(s.order, session.ID)
	}
	restored := len(s.order)
	s.mu.Unlock()

	s.logger.Info("session snapshot restored",
		zap.Int("entries", len(entries)),
		zap.Int("restored", restored),
		zap.Bool("rewrite", changed))
	if changed {
		s.markDirty()
	}
}

func (s *Store) interruptLocked(session *domain.WorkSession, now time.Time) {
	const message = "work interrupted by service restart"
	session.Status = domain.WorkStatusError
	session.EndedAt = &now
	session.Error = &domain.WorkError{Message: message, Recoverable: true, CanRetry: true}
	session.Events = append(session.Events, domain.Event{
		Type:      domain.EventTypeError,
		SubjectID: session.SubjectID,
		WorkID:    session.ID,
		Timestamp: now,
		Data:      domain.ErrorData{Message: message, Recoverable: true, CanRetry: true},
	})
	s.logger.Warn("marking interrupted work session as errored",
		zap.String("work_id", session.ID),
		zap.String("subject_id", session.SubjectID))
}

func (s *Store) cleanupLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
