package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the payload carried by an Event
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeStep     EventType = "step"
	EventTypeError    EventType = "error"
	EventTypeComplete EventType = "complete"
)

// Event is a lifecycle or progress notification for one work session.
// Data holds the payload matching Type: StatusData, ProgressData, StepData,
// ErrorData or CompleteData.
type Event struct {
	Type      EventType `json:"type"`
	SubjectID string    `json:"subjectId"`
	WorkID    string    `json:"workId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// StatusData is the payload of a status event
type StatusData struct {
	Status  WorkStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// ProgressData is the payload of a progress event
type ProgressData struct {
	Percent     int    `json:"percent"`
	CurrentStep string `json:"currentStep,omitempty"`
	TotalSteps  int    `json:"totalSteps,omitempty"`
}

// StepPhase describes where a subtask is in its execution
type StepPhase string

const (
	StepStarted   StepPhase = "started"
	StepCompleted StepPhase = "completed"
	StepFailed    StepPhase = "failed"
	StepInfo      StepPhase = "info"
)

// StepData is the payload of a step event
type StepData struct {
	SubtaskID    string    `json:"subtaskId,omitempty"`
	Title        string    `json:"title,omitempty"`
	Phase        StepPhase `json:"phase"`
	Message      string    `json:"message,omitempty"`
	ToolsUsed    []string  `json:"toolsUsed,omitempty"`
	FilesChanged []string  `json:"filesChanged,omitempty"`
}

// ErrorData is the payload of an error event
type ErrorData struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	CanRetry    bool   `json:"canRetry"`
}

// CompleteData is the payload of a complete event
type CompleteData struct {
	Success      bool     `json:"success"`
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"filesChanged"`
}

// UnmarshalJSON decodes the payload into the struct matching the event type
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      EventType       `json:"type"`
		SubjectID string          `json:"subjectId"`
		WorkID    string          `json:"workId"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var data any
	switch raw.Type {
	case EventTypeStatus:
		data = &StatusData{}
	case EventTypeProgress:
		data = &ProgressData{}
	case EventTypeStep:
		data = &StepData{}
	case EventTypeError:
		data = &ErrorData{}
	case EventTypeComplete:
		data = &CompleteData{}
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return fmt.Errorf("failed to decode %s event data: %w", raw.Type, err)
		}
	}

	e.Type = raw.Type
	e.SubjectID = raw.SubjectID
	e.WorkID = raw.WorkID
	e.Timestamp = raw.Timestamp
	e.Data = derefData(data)
	return nil
}

func derefData(data any) any {
	switch d := data.(type) {
	case *StatusData:
		return *d
	case *ProgressData:
		return *d
	case *StepData:
		return *d
	case *ErrorData:
		return *d
	case *CompleteData:
		return *d
	}
	return data
}
