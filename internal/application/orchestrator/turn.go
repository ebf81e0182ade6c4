package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
)

var errStreamClosed = errors.New("agent event stream closed before turn end")

// TurnResult is what one prompt/response cycle left behind
type TurnResult struct {
	ToolsUsed    []string
	FilesChanged []string
	Output       string
	ToolErrors   []string
}

// turnAccumulator folds agent events into a TurnResult
type turnAccumulator struct {
	tools     []string
	seenTools map[string]bool
	files     []string
	seenFiles map[string]bool
	current   strings.Builder
	last      string
	errors    []string
}

func newTurnAccumulator() *turnAccumulator {
	return &turnAccumulator{
		seenTools: make(map[string]bool),
		seenFiles: make(map[string]bool),
	}
}

func (a *turnAccumulator) observe(event ports.AgentEvent) {
	switch event.Type {
	case ports.AgentEventTextDelta:
		a.current.WriteString(event.Text)
	case ports.AgentEventToolStart:
		a.flushText()
		if event.ToolName != "" && !a.seenTools[event.ToolName] {
			a.seenTools[event.ToolName] = true
			a.tools = append(a.tools, event.ToolName)
		}
		if isFileTool(event.ToolName) {
			if path := pathArg(event.Args); path != "" && !a.seenFiles[path] {
				a.seenFiles[path] = true
				a.files = append(a.files, path)
			}
		}
	case ports.AgentEventToolEnd:
		if event.IsError {
			a.errors = append(a.errors, fmt.Sprintf("%s: %s", event.ToolName, event.Result))
		}
	}
}

func (a *turnAccumulator) flushText() {
	if text := strings.TrimSpace(a.current.String()); text != "" {
		a.last = text
	}
	a.current.Reset()
}

func (a *turnAccumulator) result() *TurnResult {
	a.flushText()
	return &TurnResult{
		ToolsUsed:    append([]string{}, a.tools...),
		FilesChanged: append([]string{}, a.files...),
		Output:       a.last,
		ToolErrors:   append([]string{}, a.errors...),
	}
}

func isFileTool(name string) bool {
	return name == "write" || name == "edit"
}

func pathArg(args map[string]any) string {
	for _, key := range []string{"path", "file_path", "filePath"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// runTurn submits one prompt and waits for the session's turn_end signal.
// The event subscription lives exactly as long as the turn, and runTurn never
// returns while the prompt is still running: on timeout or cancellation the
// prompt's context is cancelled and its exit awaited, so a late tool call
// cannot reach the next turn on the same session.
func runTurn(ctx context.Context, session ports.AgentSession, req ports.PromptRequest, timeout time.Duration) (*TurnResult, error) {
	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	promptErr := make(chan error, 1)
	go func() {
		promptErr <- session.Prompt(turnCtx, req)
	}()

	// abort stops the prompt and waits for it to return
	abort := func() {
		cancel()
		if promptErr != nil {
			<-promptErr
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	acc := newTurnAccumulator()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				abort()
				return acc.result(), errStreamClosed
			}
			acc.observe(event)
			if event.Type == ports.AgentEventTurnEnd {
				// the prompt returns right after turn_end
				abort()
				return acc.result(), nil
			}
		case err := <-promptErr:
			promptErr = nil
			if err != nil {
				return acc.result(), fmt.Errorf("agent prompt failed: %w", err)
			}
			// turn_end may still be buffered on the event channel
		case <-timer.C:
			abort()
			return acc.result(), &domain.TurnTimeoutError{SessionID: session.ID(), Timeout: timeout}
		case <-ctx.Done():
			abort()
			return acc.result(), ctx.Err()
		}
	}
}
