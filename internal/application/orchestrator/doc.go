// Package orchestrator drives work sessions for tracker subjects.
//
// The orchestrator manager coordinates one work session per subject by:
//   - Creating the session and marking the subject in progress
//   - Borrowing an execution worker from the pool for the session's lifetime
//   - Running the subject's pending subtasks strictly one at a time
//   - Recording progress through the session store, which emits events
//   - Reconciling the subject's tracker status when the session ends
//
// The validator checks each agent turn for evidence of real work before a
// subtask is closed. One subtask failing never stops the remaining ones.
package orchestrator
