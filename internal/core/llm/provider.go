package llm

import (
	"context"
	"fmt"

	"github.com/markdave123-py/kbase/internal/config"
	"github.com/markdave123-py/kbase/internal/core"
)

// NewEmbeddingProvider builds the provider named by cfg.EmbedProvider,
// rate limited to cfg.EmbedRPS.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	var (
		inner core.EmbeddingProvider
		err   error
	)
	switch cfg.EmbedProvider {
	case config.ProviderGemini:
		inner, err = NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
	case config.ProviderOllama:
		inner, err = NewOllamaEmbedder(cfg.OllamaHost, cfg.EmbedModel)
	case config.ProviderOpenAI:
		inner, err = NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s embedder: %w", cfg.EmbedProvider, err)
	}
	return NewRateLimitedEmbedder(inner, cfg.EmbedRPS, max(1, cfg.EmbedBatchSize)), nil
}
