package llm

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/courseassist/internal/config"
)

// NewProvider builds the embedding provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.Model, cfg.Dimensions, ""), nil
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.Model, cfg.Timeout), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.GeminiKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("embedding provider %q not supported", cfg.Provider)
	}
}
