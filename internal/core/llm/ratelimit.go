package llm

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/models"
)

// RateLimitedEmbedder spaces calls to the wrapped provider with a token bucket,
// so concurrent batch members cannot burst past the provider quota.
type RateLimitedEmbedder struct {
	inner   core.EmbeddingProvider
	limiter *rate.Limiter
}

var _ core.EmbeddingProvider = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder allows rps calls per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimitedEmbedder(inner core.EmbeddingProvider, rps float64, burst int) *RateLimitedEmbedder {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.inner.Embed(ctx, text, cfg)
}

// Close closes the wrapped provider when it holds a client.
func (r *RateLimitedEmbedder) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
