// Package workers implements the resource pool of agent-backed workers.
//
// The pool eagerly creates a fixed number of workers per role, each owning
// one agent session, and lends them out exclusively:
//   - Acquire marks a free worker busy for one work session, waiting up to a
//     timeout for a release when every worker of the role is busy
//   - Release returns the worker and wakes waiters of that role
//   - Dispose closes every agent session and resets the pool
//
// The health monitor periodically logs occupancy and reports it as metrics.
package workers
