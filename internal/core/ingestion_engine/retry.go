package ingestion_engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/metrics"
)

// retryTransient runs op and retries it up to maxRetries times while it fails
// with core.ErrEmbeddingTransient. Retry n waits n*base. Any other error, or
// a transient one after the last retry, is returned as is.
func retryTransient(ctx context.Context, maxRetries int, base time.Duration, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.EmbedRetries.Inc()
			logger.Debug("retrying after transient failure",
				zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Error(lastErr))

			if err := sleepCtx(ctx, time.Duration(attempt)*base); err != nil {
				return err
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, core.ErrEmbeddingTransient) {
			return lastErr
		}
	}
	return lastErr
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
