package beads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"go.uber.org/zap"
)

var _ ports.Tracker = (*Client)(nil)

// RunFunc executes the tracker binary in dir and returns its captured output
type RunFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)

// Client implements ports.Tracker on top of the bd command line tool
type Client struct {
	binary string
	dir    string
	run    RunFunc
	logger *zap.Logger
}

// NewClient creates a client running binary (default "bd") inside dir
func NewClient(binary, dir string, logger *zap.Logger) *Client {
	if binary == "" {
		binary = "bd"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{binary: binary, dir: dir, run: runCommand, logger: logger}
}

// WithRunner returns a copy of the client executing commands through run
func (c *Client) WithRunner(run RunFunc) *Client {
	clone := *c
	clone.run = run
	return &clone
}

// List returns issues matching the filter
func (c *Client) List(ctx context.Context, filter ports.ListFilter) ([]domain.Issue, error) {
	args := []string{"list"}
	if filter.Status != "" {
		args = append(args, "--status", string(filter.Status))
	}
	if filter.ParentID != "" {
		args = append(args, "--parent", filter.ParentID)
	}
	for _, label := range filter.Labels {
		args = append(args, "--label", label)
	}
	if filter.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(filter.Limit))
	}

	var issues []domain.Issue
	if err := c.exec(ctx, &issues, args...); err != nil {
		return nil, err
	}
	return issues, nil
}

// Show returns one issue
func (c *Client) Show(ctx context.Context, id string) (*domain.Issue, error) {
	if id == "" {
		return nil, fmt.Errorf("issue id is required")
	}
	issue, err := c.single(ctx, "show", id)
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// Create adds a new issue
func (c *Client) Create(ctx context.Context, req ports.CreateIssueRequest) (*domain.Issue, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("issue title is required")
	}
	args := []string{"create", req.Title}
	if req.Description != "" {
		args = append(args, "--description", req.Description)
	}
	if req.IssueType != "" {
		args = append(args, "--type", req.IssueType)
	}
	if req.Priority > 0 {
		args = append(args, "--priority", strconv.Itoa(req.Priority))
	}
	if req.ParentID != "" {
		args = append(args, "--parent", req.ParentID)
	}
	if len(req.Labels) > 0 {
		args = append(args, "--labels", strings.Join(req.Labels, ","))
	}
	return c.single(ctx, args...)
}

// Update changes the given fields of an issue
func (c *Client) Update(ctx context.Context, id string, req ports.UpdateIssueRequest) (*domain.Issue, error) {
	args := []string{"update", id}
	if req.Status != "" {
		args = append(args, "--status", string(req.Status))
	}
	if req.Title != "" {
		args = append(args, "--title", req.Title)
	}
	if req.Description != "" {
		args = append(args, "--description", req.Description)
	}
	if req.Priority != nil {
		args = append(args, "--priority", strconv.Itoa(*req.Priority))
	}
	return c.single(ctx, args...)
}

// Close marks an issue done with a reason
func (c *Client) Close(ctx context.Context, id, reason string) error {
	args := []string{"close", id}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	return c.exec(ctx, nil, args...)
}

// Reopen returns a closed issue to open
func (c *Client) Reopen(ctx context.Context, id string) error {
	return c.exec(ctx, nil, "reopen", id)
}

// AddComment posts a comment on an issue
func (c *Client) AddComment(ctx context.Context, id, text string) error {
	return c.exec(ctx, nil, "comments", "add", id, text)
}

// Subtasks returns the issue's children in tracker order with a completion summary
func (c *Client) Subtasks(ctx context.Context, id string) ([]domain.Issue, domain.SubtaskSummary, error) {
	children, err := c.List(ctx, ports.ListFilter{ParentID: id})
	if err != nil {
		return nil, domain.SubtaskSummary{}, err
	}

	summary := domain.SubtaskSummary{Total: len(children)}
	for _, child := range children {
		if child.Closed() {
			summary.Completed++
		} else {
			summary.Pending++
		}
	}
	return children, summary, nil
}

// Search returns issues whose text matches query
func (c *Client) Search(ctx context.Context, query string) ([]domain.Issue, error) {
	var issues []domain.Issue
	if err := c.exec(ctx, &issues, "search", query); err != nil {
		return nil, err
	}
	return issues, nil
}

// single runs a command whose JSON output is either one issue or a one-element list
func (c *Client) single(ctx context.Context, args ...string) (*domain.Issue, error) {
	var raw json.RawMessage
	if err := c.exec(ctx, &raw, args...); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var issues []domain.Issue
		if err := json.Unmarshal(trimmed, &issues); err != nil {
			return nil, c.malformed(args, err)
		}
		if len(issues) == 0 {
			return nil, &domain.CommandError{Command: c.binary, Args: args, Err: errors.New("no issue in output")}
		}
		return &issues[0], nil
	}

	var issue domain.Issue
	if err := json.Unmarshal(trimmed, &issue); err != nil {
		return nil, c.malformed(args, err)
	}
	return &issue, nil
}

// exec runs the binary with --json and decodes stdout into out when out is non-nil
func (c *Client) exec(ctx context.Context, out any, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := append(append([]string{}, args...), "--json")
	stdout, stderr, exitCode, err := c.run(ctx, c.dir, c.binary, full...)
	if err != nil || exitCode != 0 {
		cmdErr := &domain.CommandError{
			Command:  c.binary,
			Args:     args,
			ExitCode: exitCode,
			Stderr:   string(stderr),
			Err:      err,
		}
		c.logger.Warn("tracker command failed",
			zap.String("command", args[0]),
			zap.Int("exit_code", exitCode),
			zap.Error(cmdErr))
		return cmdErr
	}

	c.logger.Debug("tracker command succeeded", zap.Strings("args", args))

	if out == nil || len(bytes.TrimSpace(stdout)) == 0 {
		if out != nil {
			return c.malformed(args, errors.New("empty output"))
		}
		return nil
	}
	if err := json.Unmarshal(stdout, out); err != nil {
		return c.malformed(args, err)
	}
	return nil
}

func (c *Client) malformed(args []string, err error) error {
	return &domain.CommandError{
		Command: c.binary,
		Args:    args,
		Err:     fmt.Errorf("malformed output: %w", err),
	}
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, int, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, nil, -1, fmt.Errorf("locate %s command: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}
