package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

const (
	maxToolOutput = 32 * 1024
	bashTimeout   = 2 * time.Minute
)

var errOutsideWorkDir = errors.New("path escapes the working directory")

// toolSpec describes one tool offered to the model
type toolSpec struct {
	name        string
	description string
	schema      map[string]any
}

var toolSpecs = []toolSpec{
	{
		name:        "read",
		description: "Read a text file relative to the working directory.",
		schema: objectSchema(map[string]any{
			"path": stringProp("File path relative to the working directory"),
		}, "path"),
	},
	{
		name:        "write",
		description: "Create or overwrite a file with the given content.",
		schema: objectSchema(map[string]any{
			"path":    stringProp("File path relative to the working directory"),
			"content": stringProp("Full file content"),
		}, "path", "content"),
	},
	{
		name:        "edit",
		description: "Replace one exact occurrence of old_text with new_text in a file.",
		schema: objectSchema(map[string]any{
			"path":     stringProp("File path relative to the working directory"),
			"old_text": stringProp("Exact text to replace; must occur exactly once"),
			"new_text": stringProp("Replacement text"),
		}, "path", "old_text", "new_text"),
	},
	{
		name:        "bash",
		description: "Run a shell command in the working directory and return its combined output.",
		schema: objectSchema(map[string]any{
			"command": stringProp("Command line passed to bash -c"),
		}, "command"),
	},
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// encodeTools converts the tool specs into SDK tool params
func encodeTools() []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(toolSpecs))
	for _, spec := range toolSpecs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: spec.schema}, spec.name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(spec.description)
		}
		out = append(out, u)
	}
	return out
}

// toolbox executes tool calls confined to one working directory
type toolbox struct {
	root string
}

func newToolbox(workDir string) (*toolbox, error) {
	if workDir == "" {
		workDir = "."
	}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return &toolbox{root: root}, nil
}

// execute runs a tool and returns its textual result
func (t *toolbox) execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	switch name {
	case "read":
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid read arguments: %w", err)
		}
		return t.read(args.Path)
	case "write":
		var args struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid write arguments: %w", err)
		}
		return t.write(args.Path, args.Content)
	case "edit":
		var args struct {
			Path    string `json:"path"`
			OldText string `json:"old_text"`
			NewText string `json:"new_text"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid edit arguments: %w", err)
		}
		return t.edit(args.Path, args.OldText, args.NewText)
	case "bash":
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid bash arguments: %w", err)
		}
		return t.bash(ctx, args.Command)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

// resolve maps a model-supplied path into the working directory
func (t *toolbox) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(t.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideWorkDir, path)
	}
	return full, nil
}

func (t *toolbox) read(path string) (string, error) {
	full, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return truncateOutput(string(data)), nil
}

func (t *toolbox) write(path, content string) (string, error) {
	full, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (t *toolbox) edit(path, oldText, newText string) (string, error) {
	full, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch n := strings.Count(content, oldText); {
	case oldText == "":
		return "", errors.New("old_text is required")
	case n == 0:
		return "", fmt.Errorf("old_text does not occur in %s", path)
	case n > 1:
		return "", fmt.Errorf("old_text occurs %d times in %s", n, path)
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(full, []byte(updated), info.Mode().Perm()); err != nil {
		return "", err
	}
	return fmt.Sprintf("edited %s", path), nil
}

func (t *toolbox) bash(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errors.New("command is required")
	}
	ctx, cancel := context.WithTimeout(ctx, bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.root
	// background children holding the pipes must not outlive a cancelled turn
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := truncateOutput(out.String())
	if err != nil {
		return output, fmt.Errorf("%w\n%s", err, output)
	}
	return output, nil
}

func truncateOutput(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	return s[:maxToolOutput] + "\n[output truncated]"
}
