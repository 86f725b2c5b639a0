package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/models"
)

const defaultOllamaEmbedModel = "nomic-embed-text"

// OllamaEmbedder embeds through a local Ollama server.
type OllamaEmbedder struct {
	cli          *api.Client
	defaultModel string
}

var _ core.EmbeddingProvider = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to host, or to OLLAMA_HOST when host is empty.
func NewOllamaEmbedder(host, modelName string) (*OllamaEmbedder, error) {
	var (
		cli *api.Client
		err error
	)
	if host == "" {
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
	} else {
		base, perr := url.Parse(host)
		if perr != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, perr)
		}
		cli = api.NewClient(base, http.DefaultClient)
	}
	if modelName == "" {
		modelName = defaultOllamaEmbedModel
	}
	return &OllamaEmbedder{cli: cli, defaultModel: modelName}, nil
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error) {
	model := cfg.Model
	if model == "" {
		model = o.defaultModel
	}
	resp, err := o.cli.Embeddings(ctx, &api.EmbeddingRequest{
		Model:     model,
		Prompt:    text,
		KeepAlive: &api.Duration{Duration: 60 * time.Minute},
	})
	if err != nil {
		return nil, classify("ollama", fmt.Errorf("ollama embed: %w", err))
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: ollama returned an empty embedding", core.ErrEmbeddingFatal)
	}
	return fitDimensions(toFloat32(resp.Embedding), cfg.Dimensions)
}
