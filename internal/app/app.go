package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/config"
	"github.com/markdave123-py/kbase/internal/core"
	db "github.com/markdave123-py/kbase/internal/core/database"
	"github.com/markdave123-py/kbase/internal/core/extractors"
	"github.com/markdave123-py/kbase/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbase/internal/core/llm"
	objectclient "github.com/markdave123-py/kbase/internal/core/object-client"
	"github.com/markdave123-py/kbase/internal/core/retrieval"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/models"
	"github.com/markdave123-py/kbase/internal/services"
)

// App holds the wired components. The HTTP server is optional so kbctl can
// reuse the same graph in-process.
type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Ingestor     ingestion_engine.Ingestor
	Documents    *services.DocumentService
	Chat         *services.ChatService
	Server       *Server

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Server = NewServer(cfg, a.Documents, a.Chat)
	return a, nil
}

// NewCore builds everything except the HTTP server.
func NewCore(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := db.NewDbClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	logger.Info("document store ready", zap.String("backend", cfg.StoreBackend))

	objClient, err := objectclient.NewObjectClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.ObjectClient = objClient
	logger.Info("blob storage ready", zap.String("backend", cfg.BlobBackend))

	embedder, err := llm.NewEmbeddingProvider(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	var generator core.LLMProvider
	if cfg.AIAPIKey != "" {
		g, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		a.closers = append(a.closers, g)
		generator = g
	} else {
		logger.Warn("no GEMINI_API_KEY; answers and reranking are disabled")
	}

	ingCfg := ingestion_engine.IngestConfig{
		BatchSize:    cfg.EmbedBatchSize,
		BatchDelay:   cfg.EmbedBatchDelay,
		MaxRetries:   cfg.EmbedMaxRetries,
		RetryBackoff: cfg.EmbedRetryBackoff,
		Workers:      cfg.IngestWorkers,
	}
	embedCfg := core.StaticEmbeddingConfig(models.EmbeddingConfig{Model: cfg.EmbedModel, Dimensions: cfg.EmbedDim})

	tokens := tokenizer.Default()
	processor := ingestion_engine.NewProcessor(extractors.NewDefaultRegistry(extractors.DocconvConverter, tokens), tokens, cfg.MaxUploadMB)
	pipeline := ingestion_engine.NewPipeline(dbClient, embedder, ingCfg)
	ingestor, err := ingestion_engine.NewDocumentIngestor(dbClient, objClient, cfg.BucketName, processor, pipeline, embedCfg, ingCfg)
	if err != nil {
		return nil, err
	}
	a.Ingestor = ingestor

	opts := []retrieval.Option{retrieval.WithThreshold(cfg.SimilarityThreshold)}
	if cfg.RerankEnabled && generator != nil {
		scorer := retrieval.NewLLMRelevanceScorer(generator)
		opts = append(opts, retrieval.WithReranker(retrieval.NewReranker(scorer, cfg.RerankCutoff)))
		logger.Info("reranking enabled", zap.Float64("cutoff", cfg.RerankCutoff))
	}
	engine := retrieval.NewEngine(dbClient, embedder, embedCfg, opts...)

	a.Documents = services.NewDocumentService(dbClient, objClient, cfg.BucketName, processor, ingestor, engine)
	a.Chat = services.NewChatService(a.Documents, generator)

	ok = true
	return a, nil
}

// Close waits for queued ingestion to finish, then releases clients.
func (a *App) Close() {
	if a.Ingestor != nil {
		a.Ingestor.Release()
	}
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.DBClient != nil {
		errs = append(errs, a.DBClient.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("shutdown left errors", zap.Error(err))
	}
}
