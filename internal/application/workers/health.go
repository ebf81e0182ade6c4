package workers

import (
	"sync"
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"go.uber.org/zap"
)

// HealthMonitor monitors pool occupancy
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	Initialized bool
	Roles       map[domain.Role]domain.RoleStats
	Saturated   []domain.Role
	Healthy     bool
	Timestamp   time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})

	go h.run(h.stopCh)
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

// run is the main health monitoring loop
func (h *HealthMonitor) run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth checks pool health, logs status and refreshes gauges
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	planning := status.Roles[domain.RolePlanning]
	execution := status.Roles[domain.RoleExecution]
	h.logger.Info("worker pool health check",
		zap.Bool("initialized", status.Initialized),
		zap.Int("planning_total", planning.Total),
		zap.Int("planning_busy", planning.Busy),
		zap.Int("execution_total", execution.Total),
		zap.Int("execution_busy", execution.Busy),
		zap.Bool("healthy", status.Healthy))

	for role, rs := range status.Roles {
		h.pool.metrics.RecordPoolStatus(role, rs.Total, rs.Busy)
	}

	if !status.Initialized {
		h.logger.Warn("worker pool is not initialized")
		return
	}

	// Warn if a role has no capacity left
	for _, role := range status.Saturated {
		h.logger.Warn("all workers of role are busy - consider scaling up",
			zap.String("role", string(role)),
			zap.Int("total", status.Roles[role].Total))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	stats := h.pool.Stats()

	status := &HealthStatus{
		Initialized: stats.Initialized,
		Roles:       stats.Roles,
		Timestamp:   time.Now(),
	}
	for _, role := range domain.Roles {
		rs := stats.Roles[role]
		if rs.Total > 0 && rs.Available == 0 {
			status.Saturated = append(status.Saturated, role)
		}
	}
	status.Healthy = stats.Initialized && stats.Roles[domain.RoleExecution].Total > 0
	return status
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
