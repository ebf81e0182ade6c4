package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"go.uber.org/zap"
)

// PoolOptions tunes workers created by the pool
type PoolOptions struct {
	// Effort is the reasoning effort applied to each role's agent sessions
	Effort map[domain.Role]domain.ReasoningEffort
	// Now overrides the clock used for assignment timestamps
	Now func() time.Time
}

// Pool manages fixed-size groups of workers by role
type Pool struct {
	factory ports.AgentFactory
	metrics ports.MetricsCollector
	logger  *zap.Logger
	effort  map[domain.Role]domain.ReasoningEffort
	now     func() time.Time

	mu          sync.Mutex
	initialized bool
	workers     map[string]*Worker
	order       map[domain.Role][]*Worker
	// released is closed and replaced whenever a worker of the role frees up
	released map[domain.Role]chan struct{}
}

// Worker is a pooled execution slot backed by one agent session
type Worker struct {
	id      string
	role    domain.Role
	session ports.AgentSession

	busy        bool
	currentWork string
	assignedAt  time.Time
	processed   int
}

// ID returns the worker identity
func (w *Worker) ID() string { return w.id }

// Role returns the worker role
func (w *Worker) Role() domain.Role { return w.role }

// Session returns the agent session owned by the worker
func (w *Worker) Session() ports.AgentSession { return w.session }

func (w *Worker) info() domain.WorkerInfo {
	info := domain.WorkerInfo{
		ID:          w.id,
		Role:        w.role,
		SessionID:   w.session.ID(),
		Busy:        w.busy,
		CurrentWork: w.currentWork,
		Processed:   w.processed,
	}
	if w.busy {
		t := w.assignedAt
		info.AssignedAt = &t
	}
	return info
}

// NewPool creates a new, uninitialized worker pool
func NewPool(factory ports.AgentFactory, metrics ports.MetricsCollector, logger *zap.Logger, opts PoolOptions) *Pool {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pool{
		factory:  factory,
		metrics:  metrics,
		logger:   logger,
		effort:   opts.Effort,
		now:      opts.Now,
		workers:  make(map[string]*Worker),
		order:    make(map[domain.Role][]*Worker),
		released: make(map[domain.Role]chan struct{}),
	}
}

// Initialize eagerly creates the configured number of workers per role.
// Calling it on an initialized pool is a no-op.
func (p *Pool) Initialize(ctx context.Context, cfg domain.PoolConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		p.logger.Info("worker pool already initialized, skipping")
		return nil
	}

	p.logger.Info("initializing worker pool",
		zap.Int("planning", cfg.Planning),
		zap.Int("execution", cfg.Execution))

	created := make([]*Worker, 0, cfg.Planning+cfg.Execution)
	for _, role := range domain.Roles {
		for i := 0; i < cfg.Count(role); i++ {
			w, err := p.newWorker(ctx, role, i)
			if err != nil {
				p.closeWorkers(created)
				return fmt.Errorf("failed to create %s worker %d: %w", role, i, err)
			}
			created = append(created, w)
		}
	}

	for _, w := range created {
		p.workers[w.id] = w
		p.order[w.role] = append(p.order[w.role], w)
	}
	for _, role := range domain.Roles {
		p.released[role] = make(chan struct{})
	}
	p.initialized = true
	p.reportLocked()

	p.logger.Info("worker pool initialized", zap.Int("workers", len(created)))
	return nil
}

func (p *Pool) newWorker(ctx context.Context, role domain.Role, index int) (*Worker, error) {
	session, err := p.factory.NewSession(ctx, role)
	if err != nil {
		return nil, err
	}
	if effort, ok := p.effort[role]; ok && effort != "" {
		if err := session.SetReasoningEffort(effort); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("failed to set reasoning effort: %w", err)
		}
	}
	return &Worker{
		id:      fmt.Sprintf("%s-%d", role, index),
		role:    role,
		session: session,
	}, nil
}

// Acquire lends out a free worker of the role, marking it busy for workID.
// When every worker of the role is busy it waits for a release until timeout
// elapses, failing with an *domain.AcquireTimeoutError.
func (p *Pool) Acquire(ctx context.Context, role domain.Role, workID string, timeout time.Duration) (*Worker, error) {
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if !p.initialized {
			p.mu.Unlock()
			return nil, domain.ErrNotInitialized
		}
		if !role.Valid() {
			p.mu.Unlock()
			return nil, fmt.Errorf("unknown worker role %q", role)
		}

		for _, w := range p.order[role] {
			if w.busy {
				continue
			}
			w.busy = true
			w.currentWork = workID
			w.assignedAt = p.now()
			p.reportLocked()
			p.mu.Unlock()

			p.metrics.RecordAcquire(role, "acquired", time.Since(start))
			p.logger.Debug("worker acquired",
				zap.String("worker_id", w.id),
				zap.String("role", string(role)),
				zap.String("work_id", workID))
			return w, nil
		}
		wake := p.released[role]
		p.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			p.metrics.RecordAcquire(role, "timeout", time.Since(start))
			p.logger.Warn("timed out waiting for worker",
				zap.String("role", string(role)),
				zap.String("work_id", workID),
				zap.Duration("timeout", timeout))
			return nil, &domain.AcquireTimeoutError{Role: role, WorkID: workID, Timeout: timeout}
		case <-ctx.Done():
			p.metrics.RecordAcquire(role, "cancelled", time.Since(start))
			return nil, fmt.Errorf("acquire %s worker: %w", role, ctx.Err())
		}
	}
}

// Release returns a worker to the pool. Unknown or already free workers are ignored.
func (p *Pool) Release(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok || !w.busy {
		return
	}

	p.logger.Debug("worker released",
		zap.String("worker_id", w.id),
		zap.String("work_id", w.currentWork),
		zap.Duration("held", p.now().Sub(w.assignedAt)))

	w.busy = false
	w.currentWork = ""
	w.assignedAt = time.Time{}
	w.processed++
	p.wakeLocked(w.role)
	p.reportLocked()
}

// Stats returns per-role totals, busy and available counts
func (p *Pool) Stats() domain.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// Workers returns a snapshot of every worker, planning first
func (p *Pool) Workers() []domain.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]domain.WorkerInfo, 0, len(p.workers))
	for _, role := range domain.Roles {
		for _, w := range p.order[role] {
			infos = append(infos, w.info())
		}
	}
	return infos
}

// Initialized reports whether Initialize succeeded and Dispose has not run since
func (p *Pool) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Dispose closes every agent session and resets the pool to uninitialized.
// Waiting acquirers wake up and fail with ErrNotInitialized.
func (p *Pool) Dispose(ctx context.Context) error {
	p.mu.Lock()
	all := make([]*Worker, 0, len(p.workers))
	for _, role := range domain.Roles {
		all = append(all, p.order[role]...)
	}
	p.workers = make(map[string]*Worker)
	p.order = make(map[domain.Role][]*Worker)
	p.initialized = false
	for role := range p.released {
		p.wakeLocked(role)
	}
	p.mu.Unlock()

	p.logger.Info("disposing worker pool", zap.Int("workers", len(all)))
	err := p.closeWorkers(all)
	for _, role := range domain.Roles {
		p.metrics.RecordPoolStatus(role, 0, 0)
	}
	if ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (p *Pool) closeWorkers(workers []*Worker) error {
	var errs []error
	for _, w := range workers {
		if err := w.session.Close(); err != nil {
			p.logger.Error("failed to close agent session",
				zap.String("worker_id", w.id),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", w.id, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) wakeLocked(role domain.Role) {
	if ch, ok := p.released[role]; ok {
		close(ch)
	}
	p.released[role] = make(chan struct{})
}

func (p *Pool) statsLocked() domain.PoolStats {
	stats := domain.PoolStats{
		Initialized: p.initialized,
		Roles:       make(map[domain.Role]domain.RoleStats, len(domain.Roles)),
	}
	for _, role := range domain.Roles {
		var rs domain.RoleStats
		for _, w := range p.order[role] {
			rs.Total++
			if w.busy {
				rs.Busy++
			}
		}
		rs.Available = rs.Total - rs.Busy
		stats.Roles[role] = rs
	}
	return stats
}

func (p *Pool) reportLocked() {
	for role, rs := range p.statsLocked().Roles {
		p.metrics.RecordPoolStatus(role, rs.Total, rs.Busy)
	}
}
