package ports

import "github.com/garymjr/beadworks/internal/domain"

// PromptBuilder maps issue context to prompt text. Implementations are pure.
type PromptBuilder interface {
	SubtaskPrompt(parent, subtask domain.Issue) (string, error)
	IssuePrompt(issue domain.Issue) (string, error)
}
