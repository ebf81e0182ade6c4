package domain

import "time"

// WorkStatus is the lifecycle state of a work session
type WorkStatus string

const (
	WorkStatusStarting  WorkStatus = "starting"
	WorkStatusThinking  WorkStatus = "thinking"
	WorkStatusAcquiring WorkStatus = "acquiring"
	WorkStatusWorking   WorkStatus = "working"
	WorkStatusComplete  WorkStatus = "complete"
	WorkStatusError     WorkStatus = "error"
	WorkStatusCancelled WorkStatus = "cancelled"
)

// IsTerminal reports whether the status is final
func (s WorkStatus) IsTerminal() bool {
	return s == WorkStatusComplete || s == WorkStatusError || s == WorkStatusCancelled
}

// WorkError records why a session ended in error
type WorkError struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	CanRetry    bool   `json:"canRetry"`
}

// WorkResult records the outcome of a completed session
type WorkResult struct {
	Success      bool     `json:"success"`
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"filesChanged"`
}

// WorkSession is one end-to-end attempt at a subject's outstanding subtasks
type WorkSession struct {
	ID          string      `json:"id"`
	SubjectID   string      `json:"subjectId"`
	WorkDir     string      `json:"workDir,omitempty"`
	Status      WorkStatus  `json:"status"`
	StartedAt   time.Time   `json:"startedAt"`
	EndedAt     *time.Time  `json:"endedAt,omitempty"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"currentStep,omitempty"`
	TotalSteps  int         `json:"totalSteps,omitempty"`
	Events      []Event     `json:"events"`
	Error       *WorkError  `json:"error,omitempty"`
	Result      *WorkResult `json:"result,omitempty"`
}

// IsTerminal reports whether the session reached a final status
func (s *WorkSession) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand outside the store
func (s *WorkSession) Clone() *WorkSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Events = make([]Event, len(s.Events))
	copy(c.Events, s.Events)
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.Result != nil {
		r := *s.Result
		r.FilesChanged = append([]string(nil), s.Result.FilesChanged...)
		c.Result = &r
	}
	return &c
}

// TailEvents returns at most n of the most recent log events, oldest first
func (s *WorkSession) TailEvents(n int) []Event {
	if n <= 0 || len(s.Events) == 0 {
		return nil
	}
	start := len(s.Events) - n
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(s.Events)-start)
	copy(out, s.Events[start:])
	return out
}
