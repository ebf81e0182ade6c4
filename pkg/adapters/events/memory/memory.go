package memory

import (
	"fmt"
	"sync"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"go.uber.org/zap"
)

var _ ports.EventBus = (*InMemoryEventBus)(nil)

type subscription struct {
	id       uint64
	listener ports.Listener
}

// InMemoryEventBus implements EventBus with synchronous in-process delivery
type InMemoryEventBus struct {
	logger      *zap.Logger
	subscribers []subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{logger: logger}
}

// Emit delivers an event to every listener subscribed at the time of the call.
// Listener errors and panics are logged; delivery continues with the next listener.
func (e *InMemoryEventBus) Emit(event domain.Event) {
	e.mu.RLock()
	subs := make([]subscription, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.RUnlock()

	for _, sub := range subs {
		if err := e.deliver(sub, event); err != nil {
			e.logger.Warn("event listener failed",
				zap.Uint64("subscription_id", sub.id),
				zap.String("event_type", string(event.Type)),
				zap.String("work_id", event.WorkID),
				zap.Error(err))
		}
	}
}

// Subscribe registers a listener. The returned function removes it and is safe to call more than once.
func (e *InMemoryEventBus) Subscribe(listener ports.Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.subscribers = append(e.subscribers, subscription{id: id, listener: listener})

	var once sync.Once
	return func() {
		once.Do(func() { e.unsubscribe(id) })
	}
}

// Len returns the number of current subscribers
func (e *InMemoryEventBus) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}

// Close removes every subscriber
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = nil
	return nil
}

func (e *InMemoryEventBus) deliver(sub subscription, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return sub.listener(event)
}

// unsubscribe removes a subscription by id
func (e *InMemoryEventBus) unsubscribe(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subscribers {
		if sub.id == id {
			e.subscribers = append(e.subscribers[:i:i], e.subscribers[i+1:]...)
			return
		}
	}
}
