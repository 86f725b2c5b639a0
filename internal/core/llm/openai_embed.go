package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/models"
)

const defaultOpenAIEmbedModel = "text-embedding-3-small"

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint through
// langchaingo. The model is fixed per langchaingo client, so one client is
// kept per model name.
type OpenAIEmbedder struct {
	baseURL      string
	token        string
	defaultModel string

	mu        sync.Mutex
	embedders map[string]embeddings.Embedder
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder uses token "none" when apiKey is empty, which local
// OpenAI-compatible servers accept.
func NewOpenAIEmbedder(baseURL, apiKey, modelName string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		apiKey = "none"
	}
	if modelName == "" {
		modelName = defaultOpenAIEmbedModel
	}
	e := &OpenAIEmbedder{
		baseURL:      baseURL,
		token:        apiKey,
		defaultModel: modelName,
		embedders:    make(map[string]embeddings.Embedder),
	}
	if _, err := e.embedder(modelName); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *OpenAIEmbedder) embedder(model string) (embeddings.Embedder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emb, ok := e.embedders[model]; ok {
		return emb, nil
	}

	opts := []openai.Option{openai.WithToken(e.token), openai.WithEmbeddingModel(model)}
	if e.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(e.baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	e.embedders[model] = emb
	return emb, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error) {
	model := cfg.Model
	if model == "" {
		model = e.defaultModel
	}
	emb, err := e.embedder(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingFatal, err)
	}

	vecs, err := emb.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, classify("openai", fmt.Errorf("openai embed: %w", err))
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: openai returned an empty embedding", core.ErrEmbeddingFatal)
	}
	return fitDimensions(vecs[0], cfg.Dimensions)
}
