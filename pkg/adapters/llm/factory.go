package llm

import (
	"fmt"

	"github.com/garymjr/beadworks/internal/ports"
	"github.com/garymjr/beadworks/pkg/adapters/llm/anthropic"
	"go.uber.org/zap"
)

// Config holds agent provider configuration
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	MaxTokens         int64
	MaxToolIterations int
	Metrics           anthropic.Metrics
	Logger            *zap.Logger
}

// NewAgentFactory creates an agent factory based on provider
func NewAgentFactory(cfg *Config) (ports.AgentFactory, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewFactoryFromAPIKey(cfg.APIKey, anthropic.Options{
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			MaxIterations: cfg.MaxToolIterations,
			Metrics:       cfg.Metrics,
			Logger:        cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
