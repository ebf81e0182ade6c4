// Package events provides event bus implementations.
//
// Implementations:
//   - memory: synchronous in-process bus, the authoritative fan-out
//   - redis: Redis Streams mirror of the in-process bus for external followers
package events
