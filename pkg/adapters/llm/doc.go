// Package llm provides agent session factories.
//
// The factory creates agent sessions based on provider configuration.
// Currently supports:
//   - Anthropic Claude, with read/write/edit/bash tools confined to the work directory
package llm
