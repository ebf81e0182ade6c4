package beads

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	dir  string
	name string
	args []string
}

type fakeRunner struct {
	calls    []call
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (f *fakeRunner) run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, int, error) {
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	return []byte(f.stdout), []byte(f.stderr), f.exitCode, f.err
}

func newTestClient(runner *fakeRunner) *Client {
	return NewClient("", "/repo", nil).WithRunner(runner.run)
}

func TestSubtasksListsChildrenAndSummarizes(t *testing.T) {
	runner := &fakeRunner{stdout: `[
		{"id":"bd-1.1","title":"a","status":"closed"},
		{"id":"bd-1.2","title":"b","status":"open"},
		{"id":"bd-1.3","title":"c","status":"in_progress"}
	]`}
	client := newTestClient(runner)

	children, summary, err := client.Subtasks(context.Background(), "bd-1")
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, "bd-1.2", children[1].ID)
	assert.Equal(t, domain.SubtaskSummary{Total: 3, Completed: 1, Pending: 2}, summary)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/repo", runner.calls[0].dir)
	assert.Equal(t, "bd", runner.calls[0].name)
	assert.Equal(t, []string{"list", "--parent", "bd-1", "--json"}, runner.calls[0].args)
}

func TestShowAcceptsObjectOrList(t *testing.T) {
	runner := &fakeRunner{stdout: `{"id":"bd-2","title":"Parent","status":"open","labels":["api"]}`}
	issue, err := newTestClient(runner).Show(context.Background(), "bd-2")
	require.NoError(t, err)
	assert.Equal(t, "Parent", issue.Title)
	assert.Equal(t, []string{"api"}, issue.Labels)

	runner.stdout = `[{"id":"bd-2","title":"Parent","status":"open"}]`
	issue, err = newTestClient(runner).Show(context.Background(), "bd-2")
	require.NoError(t, err)
	assert.Equal(t, "bd-2", issue.ID)
}

func TestUpdatePassesOnlySetFields(t *testing.T) {
	runner := &fakeRunner{stdout: `{"id":"bd-3","status":"in_progress"}`}
	priority := 1

	_, err := newTestClient(runner).Update(context.Background(), "bd-3", ports.UpdateIssueRequest{
		Status:   domain.IssueStatusInProgress,
		Priority: &priority,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"update", "bd-3", "--status", "in_progress", "--priority", "1", "--json"}, runner.calls[0].args)
}

func TestCloseAndCommentIgnoreOutput(t *testing.T) {
	runner := &fakeRunner{}
	client := newTestClient(runner)

	require.NoError(t, client.Close(context.Background(), "bd-4", "Completed"))
	require.NoError(t, client.AddComment(context.Background(), "bd-4", "hello"))
	assert.Equal(t, []string{"close", "bd-4", "--reason", "Completed", "--json"}, runner.calls[0].args)
	assert.Equal(t, []string{"comments", "add", "bd-4", "hello", "--json"}, runner.calls[1].args)
}

func TestNonZeroExitIsCommandError(t *testing.T) {
	runner := &fakeRunner{exitCode: 1, stderr: "Error: issue bd-9 not found\n"}

	_, err := newTestClient(runner).Show(context.Background(), "bd-9")
	require.Error(t, err)

	var cmdErr *domain.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Equal(t, []string{"show", "bd-9"}, cmdErr.Args)
	assert.True(t, strings.Contains(err.Error(), "issue bd-9 not found"))
}

func TestRunnerFailureIsCommandError(t *testing.T) {
	boom := errors.New("executable file not found")
	runner := &fakeRunner{exitCode: -1, err: boom}

	_, err := newTestClient(runner).List(context.Background(), ports.ListFilter{Status: domain.IssueStatusOpen})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestMalformedOutputIsCommandError(t *testing.T) {
	runner := &fakeRunner{stdout: "Created issue bd-5"}

	_, err := newTestClient(runner).Create(context.Background(), ports.CreateIssueRequest{Title: "x"})
	var cmdErr *domain.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, err.Error(), "malformed output")
}

func TestCreateRequiresTitle(t *testing.T) {
	runner := &fakeRunner{}
	_, err := newTestClient(runner).Create(context.Background(), ports.CreateIssueRequest{})
	assert.Error(t, err)
	assert.Empty(t, runner.calls)
}
