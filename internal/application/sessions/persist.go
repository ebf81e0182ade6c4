package sessions

import (
	"context"
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"go.uber.org/zap"
)

// markDirty schedules a snapshot; bursts of mutations coalesce into one write
func (s *Store) markDirty() {
	if s.snapshots == nil {
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// flushLoop waits one flush interval after the first pending mutation and
// writes a single snapshot, so writes happen at most once per interval
func (s *Store) flushLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-s.dirty:
		}

		timer := time.NewTimer(s.opts.FlushInterval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		// mutations during the wait are covered by this write
		select {
		case <-s.dirty:
		default:
		}
		_ = s.Flush(context.Background())
	}
}

// Flush writes the current table to the snapshot store. Failures are logged
// and returned for callers that care, such as shutdown.
func (s *Store) Flush(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	entries := s.snapshotLocked()
	s.mu.RUnlock()

	start := time.Now()
	if err := s.snapshots.Save(ctx, entries); err != nil {
		perr := &domain.PersistenceError{Op: "save", Err: err}
		s.metrics.RecordPersistence("save", "failure")
		s.logger.Error("failed to write session snapshot", zap.Error(perr))
		return perr
	}

	s.metrics.RecordPersistence("save", "success")
	s.logger.Debug("session snapshot written",
		zap.Int("sessions", len(entries)),
		zap.Duration("duration", time.Since(start)))
	return nil
}
