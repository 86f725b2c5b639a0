package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/metrics"
	"github.com/markdave123-py/kbase/internal/models"
)

const (
	DefaultSimilarityThreshold = 0.5
	DefaultLimit               = 5

	// rerankFanout is how many candidates per requested result the reranker sees.
	rerankFanout = 3
)

// Engine answers similarity queries over a tenant's chunks.
type Engine struct {
	db        core.DbClient
	embedder  core.EmbeddingProvider
	configs   core.EmbeddingConfigResolver
	reranker  *Reranker
	threshold float64
}

type Option func(*Engine)

// WithReranker enables the second-stage relevance pass.
func WithReranker(r *Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

func NewEngine(db core.DbClient, emb core.EmbeddingProvider, configs core.EmbeddingConfigResolver, opts ...Option) *Engine {
	e := &Engine{db: db, embedder: emb, configs: configs, threshold: DefaultSimilarityThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns up to limit chunks of the tenant most similar to query, most
// similar first. It never fails: any error is logged and yields an empty list,
// so a broken retrieval cannot break the conversation calling it.
// A nil ec uses the tenant's configured embedding.
func (e *Engine) Search(ctx context.Context, tenantID, query string, limit int, ec *models.EmbeddingConfig) []models.RankedChunk {
	hits, err := e.search(ctx, tenantID, query, limit, ec)
	if err != nil {
		metrics.Searches.WithLabelValues("error").Inc()
		logger.Error("retrieval failed", zap.String("tenant", tenantID), zap.Error(err))
		return []models.RankedChunk{}
	}
	if len(hits) == 0 {
		metrics.Searches.WithLabelValues("empty").Inc()
		return []models.RankedChunk{}
	}
	metrics.Searches.WithLabelValues("ok").Inc()
	return hits
}

func (e *Engine) search(ctx context.Context, tenantID, query string, limit int, ec *models.EmbeddingConfig) ([]models.RankedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	cfg, err := e.ResolveConfig(ctx, tenantID, ec)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, query, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", core.ErrRetrieval, err)
	}
	if len(vec) != cfg.Dimensions {
		return nil, fmt.Errorf("%w: %w: query vector has %d values, want %d",
			core.ErrRetrieval, core.ErrDimensionMismatch, len(vec), cfg.Dimensions)
	}

	fetch := limit
	if e.reranker != nil {
		fetch = limit * rerankFanout
	}
	hits, err := e.db.SearchChunks(ctx, tenantID, vec, e.threshold, fetch)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %w", core.ErrRetrieval, err)
	}

	if e.reranker != nil {
		return e.reranker.Rerank(ctx, query, hits, limit), nil
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ResolveConfig picks the explicit configuration or the tenant default, and
// rejects one whose width matches none of the tenant's stored chunks.
func (e *Engine) ResolveConfig(ctx context.Context, tenantID string, explicit *models.EmbeddingConfig) (models.EmbeddingConfig, error) {
	var cfg models.EmbeddingConfig
	if explicit != nil {
		cfg = *explicit
	} else {
		c, err := e.configs.EmbeddingConfig(ctx, tenantID)
		if err != nil {
			return cfg, fmt.Errorf("%w: resolve embedding config: %w", core.ErrRetrieval, err)
		}
		cfg = c
	}
	if cfg.Dimensions <= 0 {
		return cfg, fmt.Errorf("%w: embedding config without dimensions", core.ErrRetrieval)
	}

	stored, err := e.db.EmbeddingConfigs(ctx, tenantID)
	if err != nil {
		return cfg, fmt.Errorf("%w: stored embedding configs: %w", core.ErrRetrieval, err)
	}
	if len(stored) == 0 {
		return cfg, nil
	}
	for _, s := range stored {
		if s.Dimensions == cfg.Dimensions {
			return cfg, nil
		}
	}
	return cfg, fmt.Errorf("%w: %w: query uses %d dimensions, stored chunks use %s",
		core.ErrRetrieval, core.ErrDimensionMismatch, cfg.Dimensions, describe(stored))
}

func describe(cfgs []models.EmbeddingConfig) string {
	parts := make([]string, len(cfgs))
	for i, c := range cfgs {
		parts[i] = fmt.Sprintf("%s/%d", c.Model, c.Dimensions)
	}
	return strings.Join(parts, ", ")
}
