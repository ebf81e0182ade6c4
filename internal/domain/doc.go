// Package domain holds the core types shared by the pool, the session store
// and the orchestrator: roles and pool sizing, work sessions and their event
// log, tracker issues, and the error taxonomy.
package domain
