package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/garymjr/beadworks/internal/ports"
)

// SnapshotStore implements ports.SnapshotStore in memory.
// Documents are kept encoded so callers never share session pointers with it.
// This is for testing purposes only.
type SnapshotStore struct {
	mu      sync.RWMutex
	data    []byte
	saves   int
	saveErr error
	loadErr error
}

// NewSnapshotStore creates an empty in-memory snapshot store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Save replaces the stored document (ports.SnapshotStore interface)
func (s *SnapshotStore) Save(ctx context.Context, entries []ports.SessionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	s.data = data
	s.saves++
	return nil
}

// Load returns the last saved document (ports.SnapshotStore interface)
func (s *SnapshotStore) Load(ctx context.Context) ([]ports.SessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.data == nil {
		return nil, nil
	}
	var entries []ports.SessionEntry
	if err := json.Unmarshal(s.data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return entries, nil
}

// Saves returns how many successful writes have happened
func (s *SnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// FailSaves makes subsequent saves return err; nil restores normal behavior
func (s *SnapshotStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// FailLoads makes subsequent loads return err; nil restores normal behavior
func (s *SnapshotStore) FailLoads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// Clear removes the stored document
func (s *SnapshotStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
}
