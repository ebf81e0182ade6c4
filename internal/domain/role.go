package domain

import (
	"fmt"
	"time"
)

// Role identifies the kind of work a pooled worker is sized and tuned for
type Role string

const (
	RolePlanning  Role = "planning"
	RoleExecution Role = "execution"
)

// Roles lists every role in a stable order
var Roles = []Role{RolePlanning, RoleExecution}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RolePlanning || r == RoleExecution
}

// ReasoningEffort is the agent reasoning-effort knob applied per role
type ReasoningEffort string

const (
	EffortLow    ReasoningEffort = "low"
	EffortMedium ReasoningEffort = "medium"
	EffortHigh   ReasoningEffort = "high"
)

// Valid reports whether e is a known effort level
func (e ReasoningEffort) Valid() bool {
	switch e {
	case EffortLow, EffortMedium, EffortHigh:
		return true
	}
	return false
}

// PoolConfig holds the desired number of workers per role
type PoolConfig struct {
	Planning  int `json:"planning"`
	Execution int `json:"execution"`
}

// Count returns the configured size for a role
func (c PoolConfig) Count(role Role) int {
	switch role {
	case RolePlanning:
		return c.Planning
	case RoleExecution:
		return c.Execution
	}
	return 0
}

// Validate checks that every role has at least one worker
func (c PoolConfig) Validate() error {
	for _, role := range Roles {
		if n := c.Count(role); n < 1 {
			return &ConfigurationError{Field: string(role), Reason: fmt.Sprintf("pool size must be at least 1, got %d", n)}
		}
	}
	return nil
}

// WorkerInfo is a read-only view of a pooled worker
type WorkerInfo struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	SessionID   string     `json:"sessionId"`
	Busy        bool       `json:"busy"`
	CurrentWork string     `json:"currentWork,omitempty"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	Processed   int        `json:"processed"`
}

// RoleStats summarizes pool occupancy for one role
type RoleStats struct {
	Total     int `json:"total"`
	Busy      int `json:"busy"`
	Available int `json:"available"`
}

// PoolStats summarizes pool occupancy per role
type PoolStats struct {
	Initialized bool               `json:"initialized"`
	Roles       map[Role]RoleStats `json:"roles"`
}
