package db

import (
	"context"
	"fmt"

	"github.com/markdave123-py/kbase/internal/config"
	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/database/badgerstore"
)

// NewDbClient opens the document store selected by cfg.StoreBackend.
func NewDbClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		return NewDatabaseClient(ctx, cfg)
	case config.StoreBadger:
		return badgerstore.Open(cfg.BadgerPath, false)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
