// Package prompt renders agent prompts from tracker issues.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
)

var _ ports.PromptBuilder = (*Builder)(nil)

const subtaskTemplate = `You are working on subtask {{.Subtask.ID}} of issue {{.Parent.ID}}.

## Parent issue: {{.Parent.Title}}
{{- if .Parent.Description}}

{{.Parent.Description}}
{{- end}}

## Your subtask: {{.Subtask.Title}}
{{- if .Subtask.Description}}

{{.Subtask.Description}}
{{- end}}
{{- if .Subtask.Labels}}

Labels: {{join .Subtask.Labels ", "}}
{{- end}}

## Instructions
- Make the code changes this subtask needs using the available tools.
- Only work on this subtask; other subtasks are handled separately.
- Do not just describe changes. Apply them with write, edit or bash.
- When finished, reply with a short summary of what you changed.
`

const issueTemplate = `You are working on issue {{.ID}}: {{.Title}}
{{- if .Description}}

{{.Description}}
{{- end}}
{{- if .Labels}}

Labels: {{join .Labels ", "}}
{{- end}}

Make the changes this issue needs using the available tools, then reply with a short summary.
`

var funcs = template.FuncMap{"join": strings.Join}

// Builder renders prompts from text templates
type Builder struct {
	subtask *template.Template
	issue   *template.Template
}

// NewBuilder creates a builder with the default templates
func NewBuilder() *Builder {
	return &Builder{
		subtask: template.Must(template.New("subtask").Funcs(funcs).Parse(subtaskTemplate)),
		issue:   template.Must(template.New("issue").Funcs(funcs).Parse(issueTemplate)),
	}
}

// SubtaskPrompt renders the prompt for one subtask in the context of its parent
func (b *Builder) SubtaskPrompt(parent, subtask domain.Issue) (string, error) {
	if parent.ID == "" {
		return "", fmt.Errorf("parent issue id is required")
	}
	if subtask.ID == "" {
		return "", fmt.Errorf("subtask id is required")
	}
	return render(b.subtask, struct {
		Parent  domain.Issue
		Subtask domain.Issue
	}{parent, subtask})
}

// IssuePrompt renders the prompt for working an issue directly
func (b *Builder) IssuePrompt(issue domain.Issue) (string, error) {
	if issue.ID == "" {
		return "", fmt.Errorf("issue id is required")
	}
	return render(b.issue, issue)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
