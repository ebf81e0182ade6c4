package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultMaxLen     = 10000
	defaultBufferSize = 1024
	writeTimeout      = 5 * time.Second
)

// StreamsMirror copies every bus event into a per-subject Redis stream so
// other processes can follow work without holding a transport connection.
// Listener calls only enqueue; a single goroutine performs the writes.
type StreamsMirror struct {
	client redis.Cmdable
	logger *zap.Logger
	maxLen int64

	queue       chan domain.Event
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once

	// closed guards queue: no send may follow its close
	mu     sync.RWMutex
	closed bool
}

// NewStreamsMirror creates a mirror. Call Attach to start copying events.
func NewStreamsMirror(client redis.Cmdable, maxLen int64, logger *zap.Logger) *StreamsMirror {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamsMirror{
		client: client,
		logger: logger,
		maxLen: maxLen,
		queue:  make(chan domain.Event, defaultBufferSize),
		done:   make(chan struct{}),
	}
}

// Attach subscribes the mirror to the bus and starts the writer
func (m *StreamsMirror) Attach(bus ports.EventBus) {
	m.unsubscribe = bus.Subscribe(m.enqueue)
	go m.run()

	m.logger.Info("redis event mirror attached", zap.Int64("max_len", m.maxLen))
}

func (m *StreamsMirror) enqueue(event domain.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	select {
	case m.queue <- event:
		return nil
	default:
		return fmt.Errorf("redis mirror queue full, dropping %s event for %s", event.Type, event.WorkID)
	}
}

func (m *StreamsMirror) run() {
	defer close(m.done)
	for event := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := m.Publish(ctx, event); err != nil {
			m.logger.Error("failed to mirror event",
				zap.String("work_id", event.WorkID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

// Publish appends one event to its subject's stream
func (m *StreamsMirror) Publish(ctx context.Context, event domain.Event) error {
	streamKey := getStreamKey(event.SubjectID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(event.Type),
			"work_id": event.WorkID,
			"data":    string(data),
		},
	}

	if _, err := m.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	m.logger.Debug("event mirrored",
		zap.String("work_id", event.WorkID),
		zap.String("type", string(event.Type)),
		zap.String("stream", streamKey))
	return nil
}

// Recent returns up to count of the subject's latest mirrored events, oldest first
func (m *StreamsMirror) Recent(ctx context.Context, subjectID string, count int64) ([]domain.Event, error) {
	streamKey := getStreamKey(subjectID)

	messages, err := m.client.XRevRangeN(ctx, streamKey, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]domain.Event, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		event, err := decodeMessage(messages[i])
		if err != nil {
			m.logger.Error("skipping malformed stream message",
				zap.String("stream", streamKey),
				zap.String("message_id", messages[i].ID),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close detaches from the bus and waits for queued events to be written
func (m *StreamsMirror) Close() error {
	m.closeOnce.Do(func() {
		if m.unsubscribe == nil {
			close(m.done)
			return
		}
		m.unsubscribe()
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
	})
	<-m.done
	return nil
}

func decodeMessage(message redis.XMessage) (domain.Event, error) {
	var event domain.Event
	data, ok := message.Values["data"].(string)
	if !ok {
		return event, fmt.Errorf("invalid message format")
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}

// getStreamKey returns the Redis stream key for a subject
func getStreamKey(subjectID string) string {
	return fmt.Sprintf("beadworks:events:%s", subjectID)
}
