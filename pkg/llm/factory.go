package llm

import (
	"strings"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
)

// New creates a Client for the configured provider. An empty provider is
// inferred from the model id prefix; an unknown provider is a configuration
// error and halts startup.
func New(cfg config.ModelConfig) (Client, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = inferProvider(cfg.ModelID)
	}

	switch provider {
	case "anthropic":
		return NewAnthropicClient(cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, errors.WithFields(
			errors.New(errors.ValidationFailed, "unsupported model provider"),
			errors.Fields{"provider": cfg.Provider, "model": cfg.ModelID})
	}
}

func inferProvider(modelID string) string {
	switch {
	case strings.HasPrefix(modelID, "claude-"):
		return "anthropic"
	case strings.HasPrefix(modelID, "gpt-"), strings.HasPrefix(modelID, "ft:"):
		return "openai"
	}
	return ""
}
