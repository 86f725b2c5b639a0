package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/metrics"
	"github.com/markdave123-py/kbase/internal/models"
)

// Pipeline embeds a document's chunks in batches and persists them with progress.
//
// db:       persistence for document status and chunks.
// embedder: embedding provider (Gemini/Ollama/OpenAI).
// cfg:      batch size, pacing and retry knobs.
type Pipeline struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	cfg      IngestConfig
}

func NewPipeline(db core.DbClient, emb core.EmbeddingProvider, cfg IngestConfig) *Pipeline {
	return &Pipeline{db: db, embedder: emb, cfg: cfg.withDefaults()}
}

// Run embeds and stores every chunk. Members of a batch are embedded
// concurrently and the next batch starts only after the whole batch settles.
// Progress is written after every batch. The first fatal failure marks the
// document as errored and stops the run; chunks stored before it are kept.
func (p *Pipeline) Run(ctx context.Context, documentID, tenantID string, chunks []Chunk, ec models.EmbeddingConfig) error {
	total := len(chunks)
	log := logger.L().With(zap.String("document_id", documentID), zap.String("tenant", tenantID))

	if err := p.db.UpdateDocumentProgress(ctx, documentID, 0, total); err != nil {
		return p.fail(ctx, documentID, fmt.Errorf("init progress: %w", err))
	}

	var processed atomic.Int64
	size := p.cfg.BatchSize

	for start, batch := 0, 0; start < total; start, batch = start+size, batch+1 {
		end := min(start+size, total)

		err := p.runBatch(ctx, documentID, tenantID, chunks[start:end], ec, &processed)

		if perr := p.db.UpdateDocumentProgress(ctx, documentID, int(processed.Load()), total); perr != nil {
			log.Warn("progress update failed", zap.Int("batch", batch), zap.Error(perr))
		}
		if err != nil {
			log.Error("batch failed", zap.Int("batch", batch), zap.Error(err))
			return p.fail(ctx, documentID, err)
		}
		log.Debug("batch embedded", zap.Int("batch", batch), zap.Int64("processed", processed.Load()), zap.Int("total", total))

		if end < total {
			if err := sleepCtx(ctx, p.cfg.BatchDelay); err != nil {
				return p.fail(ctx, documentID, err)
			}
		}
	}

	if err := p.db.UpdateDocumentStatus(ctx, documentID, models.StatusReady, ""); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	metrics.DocumentsProcessed.WithLabelValues(models.StatusReady).Inc()
	log.Info("document ready", zap.Int("chunks", total))
	return nil
}

func (p *Pipeline) runBatch(ctx context.Context, documentID, tenantID string, batch []Chunk, ec models.EmbeddingConfig, processed *atomic.Int64) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range batch {
		g.Go(func() error {
			vec, err := p.embed(gctx, c.Text, ec)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", c.Position, err)
			}

			md := c.Metadata
			md.EmbeddingModel = ec.Model
			md.EmbeddingDimensions = ec.Dimensions
			row := models.DocumentChunk{
				ID:         uuid.NewString(),
				DocumentID: documentID,
				TenantID:   tenantID,
				Text:       c.Text,
				Embedding:  vec,
				Position:   c.Position,
				TokenCount: c.TokenCount,
				Metadata:   md,
				CreatedAt:  time.Now().UTC(),
			}
			// Stored on the parent context so a sibling's failure does not abort a finished chunk.
			if err := p.db.InsertDocumentChunks(ctx, []models.DocumentChunk{row}); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Position, err)
			}
			processed.Add(1)
			metrics.ChunksEmbedded.Inc()
			return nil
		})
	}
	return g.Wait()
}

// embed calls the provider with retries and checks the vector size.
func (p *Pipeline) embed(ctx context.Context, text string, ec models.EmbeddingConfig) ([]float32, error) {
	var vec []float32
	err := retryTransient(ctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, func() error {
		start := time.Now()
		v, err := p.embedder.Embed(ctx, text, ec)
		metrics.EmbedDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vec) != ec.Dimensions {
		return nil, fmt.Errorf("%w: %w: got %d values, want %d", core.ErrEmbeddingFatal, core.ErrDimensionMismatch, len(vec), ec.Dimensions)
	}
	return vec, nil
}

// fail records the error on the document and returns it.
func (p *Pipeline) fail(ctx context.Context, documentID string, cause error) error {
	msg := cause.Error()
	if errors.Is(cause, core.ErrEmbeddingTransient) {
		msg = "embedding provider kept failing after retries: " + msg
	}
	// The caller's context may be the reason we are failing.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.db.UpdateDocumentStatus(sctx, documentID, models.StatusError, msg); err != nil {
		logger.Error("could not record document failure",
			zap.String("document_id", documentID), zap.Error(err), zap.NamedError("cause", cause))
	}
	metrics.DocumentsProcessed.WithLabelValues(models.StatusError).Inc()
	return cause
}
