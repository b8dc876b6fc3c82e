package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel constructs the langchaingo model for a provider name. The
// model name and API key fall back to each provider's own defaults and
// environment lookups when empty.
func NewModel(ctx context.Context, provider, modelName, apiKey string) (llms.Model, error) {
	switch strings.ToLower(provider) {
	case "openai":
		opts := []openai.Option{}
		if apiKey != "" {
			opts = append(opts, openai.WithToken(apiKey))
		}

		if modelName != "" {
			opts = append(opts, openai.WithModel(modelName))
		}

		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{}
		if apiKey != "" {
			opts = append(opts, anthropic.WithToken(apiKey))
		}

		if modelName != "" {
			opts = append(opts, anthropic.WithModel(modelName))
		}

		return anthropic.New(opts...)
	case "googleai", "gemini":
		opts := []googleai.Option{}
		if apiKey != "" {
			opts = append(opts, googleai.WithAPIKey(apiKey))
		}

		if modelName != "" {
			opts = append(opts, googleai.WithDefaultModel(modelName))
		}

		return googleai.New(ctx, opts...)
	case "ollama":
		opts := []ollama.Option{}
		if modelName != "" {
			opts = append(opts, ollama.WithModel(modelName))
		}

		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}
