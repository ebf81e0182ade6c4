package ports

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garymjr/beadworks/internal/domain"
)

// SessionEntry is one (workId, session) pair of a snapshot document.
// It encodes as a two-element JSON array.
type SessionEntry struct {
	WorkID  string
	Session *domain.WorkSession
}

func (e SessionEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.WorkID, e.Session})
}

func (e *SessionEntry) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("session entry must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.WorkID); err != nil {
		return fmt.Errorf("failed to decode work id: %w", err)
	}
	e.Session = &domain.WorkSession{}
	if err := json.Unmarshal(pair[1], e.Session); err != nil {
		return fmt.Errorf("failed to decode session %s: %w", e.WorkID, err)
	}
	return nil
}

// SnapshotStore durably stores the full session table as one document
type SnapshotStore interface {
	// Save replaces the stored document atomically
	Save(ctx context.Context, entries []SessionEntry) error
	// Load returns the last saved document, or nil when none exists
	Load(ctx context.Context) ([]SessionEntry, error)
}
