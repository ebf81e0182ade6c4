package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garymjr/beadworks/internal/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey is the Redis key holding the session snapshot document
const DefaultKey = "beadworks:sessions"

// SnapshotStore implements ports.SnapshotStore using a single Redis string key
type SnapshotStore struct {
	client redis.Cmdable
	logger *zap.Logger
	key    string
	ttl    time.Duration
}

// NewSnapshotStore creates a Redis snapshot store. A zero ttl keeps the key forever.
func NewSnapshotStore(client redis.Cmdable, key string, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{
		client: client,
		logger: logger,
		key:    key,
		ttl:    ttl,
	}
}

// Save replaces the snapshot document (ports.SnapshotStore interface)
func (s *SnapshotStore) Save(ctx context.Context, entries []ports.SessionEntry) error {
	if entries == nil {
		entries = []ports.SessionEntry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("key", s.key),
		zap.Int("sessions", len(entries)))
	return nil
}

// Load retrieves the snapshot document (ports.SnapshotStore interface).
// A missing key is an empty table.
func (s *SnapshotStore) Load(ctx context.Context) ([]ports.SessionEntry, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var entries []ports.SessionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return entries, nil
}

// Exists checks if a snapshot has been written
func (s *SnapshotStore) Exists(ctx context.Context) (bool, error) {
	result, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return result > 0, nil
}

// Delete removes the snapshot document
func (s *SnapshotStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	s.logger.Debug("snapshot deleted", zap.String("key", s.key))
	return nil
}
