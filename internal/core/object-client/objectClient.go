package objectclient

import (
	"context"
	"fmt"

	"github.com/markdave123-py/kbase/internal/config"
	"github.com/markdave123-py/kbase/internal/core"
)

// NewObjectClient returns the blob store selected by cfg.BlobBackend.
func NewObjectClient(ctx context.Context, cfg *config.Config) (core.ObjectClient, error) {
	switch cfg.BlobBackend {
	case config.BlobS3:
		return NewS3Client(ctx, cfg)
	case config.BlobLocal:
		return NewLocalClient(cfg.LocalBlobDir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
