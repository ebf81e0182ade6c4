package ports

import (
	"time"

	"github.com/garymjr/beadworks/internal/domain"
)

// MetricsCollector records pool, session and persistence metrics
type MetricsCollector interface {
	RecordPoolStatus(role domain.Role, total, busy int)
	RecordAcquire(role domain.Role, outcome string, wait time.Duration)
	RecordSessionFinished(status domain.WorkStatus, success bool, duration time.Duration)
	RecordSubtask(outcome string, duration time.Duration)
	SetActiveSessions(count int)
	RecordPersistence(op, outcome string)
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) RecordPoolStatus(domain.Role, int, int)                       {}
func (NopMetrics) RecordAcquire(domain.Role, string, time.Duration)             {}
func (NopMetrics) RecordSessionFinished(domain.WorkStatus, bool, time.Duration) {}
func (NopMetrics) RecordSubtask(string, time.Duration)                          {}
func (NopMetrics) SetActiveSessions(int)                                        {}
func (NopMetrics) RecordPersistence(string, string)                             {}
