package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotInitialized is returned by pool operations before Initialize
	ErrNotInitialized = errors.New("worker pool not initialized")

	// ErrAcquireTimeout matches every AcquireTimeoutError
	ErrAcquireTimeout = errors.New("timed out acquiring worker")

	// ErrTurnTimeout matches every TurnTimeoutError
	ErrTurnTimeout = errors.New("timed out waiting for agent turn")

	// ErrActiveSession is returned when a subject already has non-terminal work
	ErrActiveSession = errors.New("subject already has an active work session")

	// ErrSessionNotFound is returned for unknown work ids or subjects without work
	ErrSessionNotFound = errors.New("work session not found")

	// ErrSessionTerminal is returned when mutating a finished session
	ErrSessionTerminal = errors.New("work session already finished")
)

// ConfigurationError reports invalid pool or service sizing
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// AcquireTimeoutError reports a bounded acquire that expired
type AcquireTimeoutError struct {
	Role    Role
	WorkID  string
	Timeout time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("no %s worker available for work %s within %s", e.Role, e.WorkID, e.Timeout)
}

func (e *AcquireTimeoutError) Is(target error) bool {
	return target == ErrAcquireTimeout
}

// TurnTimeoutError reports an agent turn that never signalled completion
type TurnTimeoutError struct {
	SessionID string
	Timeout   time.Duration
}

func (e *TurnTimeoutError) Error() string {
	return fmt.Sprintf("agent session %s did not finish its turn within %s", e.SessionID, e.Timeout)
}

func (e *TurnTimeoutError) Is(target error) bool {
	return target == ErrTurnTimeout
}

// CommandError reports a failed tracker command with its captured output
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s failed", e.Command, strings.Join(e.Args, " "))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationFailure reports a subtask whose turn showed no evidence of real work
type ValidationFailure struct {
	SubtaskID string
	Reason    string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("subtask %s failed validation: %s", e.SubtaskID, e.Reason)
}

// PersistenceError wraps a snapshot load or save failure. It is logged, never returned to callers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
