package core

import (
	"context"

	"github.com/markdave123-py/kbase/internal/models"
)

// EmbeddingProvider turns one text into a vector of cfg.Dimensions floats.
// Implementations wrap rate limits and quota failures in ErrEmbeddingTransient
// and everything else in ErrEmbeddingFatal.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// EmbeddingConfigResolver returns the embedding configuration a tenant's
// chunks and queries are embedded with.
type EmbeddingConfigResolver interface {
	EmbeddingConfig(ctx context.Context, tenantID string) (models.EmbeddingConfig, error)
}

// StaticEmbeddingConfig resolves every tenant to the same configuration.
type StaticEmbeddingConfig models.EmbeddingConfig

func (s StaticEmbeddingConfig) EmbeddingConfig(context.Context, string) (models.EmbeddingConfig, error) {
	return models.EmbeddingConfig(s), nil
}
