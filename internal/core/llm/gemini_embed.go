package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/models"
)

const defaultGeminiEmbedModel = "text-embedding-004"

type GeminiEmbedder struct {
	client       *genai.Client
	defaultModel string

	mu     sync.Mutex
	models map[string]*genai.EmbeddingModel
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("gemini api key not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = defaultGeminiEmbedModel
	}
	return &GeminiEmbedder{client: cl, defaultModel: modelName, models: make(map[string]*genai.EmbeddingModel)}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) model(name string) *genai.EmbeddingModel {
	if name == "" {
		name = g.defaultModel
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	em, ok := g.models[name]
	if !ok {
		em = g.client.EmbeddingModel(name)
		g.models[name] = em
	}
	return em
}

// Embed embeds one text with cfg.Model and fits the vector to cfg.Dimensions.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error) {
	resp, err := g.model(cfg.Model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classify("gemini", fmt.Errorf("gemini embed: %w", err))
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: gemini returned an empty embedding", core.ErrEmbeddingFatal)
	}
	return fitDimensions(resp.Embedding.Values, cfg.Dimensions)
}
