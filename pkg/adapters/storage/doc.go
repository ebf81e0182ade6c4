// Package storage provides session snapshot store implementations.
//
// Implementations:
//   - file: JSON document on local disk, replaced atomically (default)
//   - redis: JSON document under a single Redis key
//   - memory: In-memory for testing
package storage
