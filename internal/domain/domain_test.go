package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     PoolConfig
		wantErr string
	}{
		{name: "valid", cfg: PoolConfig{Planning: 1, Execution: 3}},
		{name: "no planning", cfg: PoolConfig{Planning: 0, Execution: 1}, wantErr: "planning"},
		{name: "negative execution", cfg: PoolConfig{Planning: 1, Execution: -2}, wantErr: "execution"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestTimeoutErrorsMatchSentinels(t *testing.T) {
	t.Parallel()

	acquire := fmt.Errorf("start: %w", &AcquireTimeoutError{Role: RoleExecution, WorkID: "w1", Timeout: time.Second})
	assert.ErrorIs(t, acquire, ErrAcquireTimeout)
	assert.NotErrorIs(t, acquire, ErrTurnTimeout)

	turn := fmt.Errorf("subtask: %w", &TurnTimeoutError{SessionID: "s1", Timeout: time.Second})
	assert.ErrorIs(t, turn, ErrTurnTimeout)
}

func TestCommandErrorMessageIncludesStderr(t *testing.T) {
	t.Parallel()

	err := &CommandError{Command: "bd", Args: []string{"show", "x"}, ExitCode: 1, Stderr: "issue not found\n", Err: errors.New("exit status 1")}
	assert.Contains(t, err.Error(), "bd show x")
	assert.Contains(t, err.Error(), "exit 1")
	assert.Contains(t, err.Error(), "issue not found")
}

func TestEventUnmarshalRestoresTypedPayload(t *testing.T) {
	t.Parallel()

	events := []Event{
		{Type: EventTypeStatus, SubjectID: "bd-1", WorkID: "w", Data: StatusData{Status: WorkStatusWorking}},
		{Type: EventTypeProgress, SubjectID: "bd-1", WorkID: "w", Data: ProgressData{Percent: 50, CurrentStep: "two"}},
		{Type: EventTypeStep, SubjectID: "bd-1", WorkID: "w", Data: StepData{SubtaskID: "bd-2", Phase: StepCompleted, FilesChanged: []string{"a.go"}}},
		{Type: EventTypeError, SubjectID: "bd-1", WorkID: "w", Data: ErrorData{Message: "boom", Recoverable: true}},
		{Type: EventTypeComplete, SubjectID: "bd-1", WorkID: "w", Data: CompleteData{Success: true, Summary: "done"}},
	}

	data, err := json.Marshal(events)
	require.NoError(t, err)

	var decoded []Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, len(events))
	for i := range events {
		assert.IsType(t, events[i].Data, decoded[i].Data)
		assert.Equal(t, events[i].Data, decoded[i].Data)
	}
}

func TestEventUnmarshalRejectsUnknownType(t *testing.T) {
	t.Parallel()

	var e Event
	err := json.Unmarshal([]byte(`{"type":"bogus","data":{}}`), &e)
	assert.ErrorContains(t, err, "unknown event type")
}

func TestWorkSessionCloneIsIndependent(t *testing.T) {
	t.Parallel()

	ended := time.Now()
	s := &WorkSession{
		ID:      "w1",
		Status:  WorkStatusComplete,
		EndedAt: &ended,
		Events:  []Event{{Type: EventTypeStatus}},
		Result:  &WorkResult{Success: true, FilesChanged: []string{"a"}},
	}

	c := s.Clone()
	c.Events[0].Type = EventTypeError
	c.Result.FilesChanged[0] = "b"
	*c.EndedAt = ended.Add(time.Hour)

	assert.Equal(t, EventTypeStatus, s.Events[0].Type)
	assert.Equal(t, "a", s.Result.FilesChanged[0])
	assert.Equal(t, ended, *s.EndedAt)
}

func TestTailEvents(t *testing.T) {
	t.Parallel()

	s := &WorkSession{}
	for i := 0; i < 5; i++ {
		s.Events = append(s.Events, Event{Type: EventTypeProgress, Data: ProgressData{Percent: i}})
	}

	tail := s.TailEvents(3)
	require.Len(t, tail, 3)
	assert.Equal(t, ProgressData{Percent: 2}, tail[0].Data)
	assert.Equal(t, ProgressData{Percent: 4}, tail[2].Data)
	assert.Len(t, s.TailEvents(10), 5)
	assert.Nil(t, s.TailEvents(0))
}
