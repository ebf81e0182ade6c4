// Package sessions implements the authoritative work-session store.
//
// The store owns every WorkSession record. Each mutation appends to the
// session's event log and emits the same event on the event bus, in log
// order. Terminal sessions are immutable. The table is snapshotted to a
// SnapshotStore by a single background flusher at most once per flush
// interval; snapshot failures are logged and never reach callers.
package sessions
