package orchestrator

import (
	"fmt"
	"strings"
)

// Validation is the verdict on one agent turn
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

var (
	defaultProductiveTools = []string{"write", "edit", "bash", "shell"}

	// toolErrorPatterns mark tool failures that mean the agent worked on the wrong files
	toolErrorPatterns = []string{
		"no such file",
		"file not found",
		"not exist",
		"permission denied",
		"enoent",
		"eacces",
	}
)

// Validator checks agent turns for observable side effects
type Validator struct {
	productive map[string]bool
}

// NewValidator creates a validator. With no arguments the productive tools are write, edit, bash and shell.
func NewValidator(productiveTools ...string) *Validator {
	if len(productiveTools) == 0 {
		productiveTools = defaultProductiveTools
	}
	productive := make(map[string]bool, len(productiveTools))
	for _, name := range productiveTools {
		productive[strings.ToLower(name)] = true
	}
	return &Validator{productive: productive}
}

// Validate judges a turn from the tools it used, the files it changed and its tool errors
func (v *Validator) Validate(toolsUsed, filesChanged, toolErrors []string) Validation {
	for _, toolErr := range toolErrors {
		lower := strings.ToLower(toolErr)
		for _, pattern := range toolErrorPatterns {
			if strings.Contains(lower, pattern) {
				return Validation{Reason: fmt.Sprintf("tool error: %s", toolErr)}
			}
		}
	}

	if len(filesChanged) > 0 {
		return Validation{Valid: true}
	}

	if len(toolsUsed) == 0 {
		return Validation{Reason: "no tool use, text-only response"}
	}

	for _, tool := range toolsUsed {
		if v.productive[strings.ToLower(tool)] {
			return Validation{Valid: true}
		}
	}
	return Validation{Reason: "read-only, no changes"}
}

var defaultValidator = NewValidator()

// ValidateWorkPerformed judges a turn with the default productive tool set
func ValidateWorkPerformed(toolsUsed, filesChanged, toolErrors []string) Validation {
	return defaultValidator.Validate(toolsUsed, filesChanged, toolErrors)
}
