package ports

import "github.com/garymjr/beadworks/internal/domain"

// Listener receives events from an EventBus. A returned error is logged by the bus.
type Listener func(event domain.Event) error

// EventBus fans lifecycle and progress events out to in-process subscribers
type EventBus interface {
	// Subscribe registers a listener and returns a function removing it
	Subscribe(listener Listener) (unsubscribe func())

	// Emit delivers the event synchronously to every current listener
	Emit(event domain.Event)
}
