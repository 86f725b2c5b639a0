package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/metrics"
	"github.com/markdave123-py/kbase/internal/models"
)

// Job asks for one stored document to be processed.
type Job struct {
	DocumentID string
	TenantID   string
	Overrides  *chunking.Overrides
}

type Ingestor interface {
	Enqueue(job Job) error
	ProcessOne(ctx context.Context, job Job) error
	Drain()
	Release()
}

var _ Ingestor = (*DocumentIngestor)(nil)

// DocumentIngestor orchestrates the background ingestion:
//
// db:        persistence for document and chunks.
// obj:       object storage holding the uploaded bytes.
// processor: extraction and chunking.
// pipeline:  batched embedding and persistence.
// configs:   per-tenant embedding configuration.
// pool:      bounded worker pool; Enqueue blocks while every worker is busy.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	bucket    string
	processor *Processor
	pipeline  *Pipeline
	configs   core.EmbeddingConfigResolver
	cfg       IngestConfig

	pool     *ants.Pool
	inflight sync.WaitGroup
}

func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	bucket string,
	processor *Processor,
	pipeline *Pipeline,
	configs core.EmbeddingConfigResolver,
	cfg IngestConfig,
) (*DocumentIngestor, error) {
	cfg = cfg.withDefaults()
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create ingest pool: %w", err)
	}
	return &DocumentIngestor{
		db:        db,
		obj:       obj,
		bucket:    bucket,
		processor: processor,
		pipeline:  pipeline,
		configs:   configs,
		cfg:       cfg,
		pool:      pool,
	}, nil
}

// Enqueue schedules a document for processing on the pool. The job runs on a
// background context bounded by JobTimeout, so it outlives the request that queued it.
func (i *DocumentIngestor) Enqueue(job Job) error {
	i.inflight.Add(1)
	err := i.pool.Submit(func() {
		defer i.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), i.cfg.JobTimeout)
		defer cancel()

		if err := i.ProcessOne(ctx, job); err != nil {
			logger.Error("ingestion failed",
				zap.String("document_id", job.DocumentID), zap.String("tenant", job.TenantID), zap.Error(err))
		}
	})
	if err != nil {
		i.inflight.Done()
		return fmt.Errorf("submit ingest job: %w", err)
	}
	return nil
}

// ProcessOne loads the stored bytes, chunks them and runs the embedding pipeline.
// Failures before the pipeline starts are recorded on the document here;
// the pipeline records its own.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, job Job) error {
	doc, err := i.db.GetDocumentByID(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if doc.Status != models.StatusProcessing {
		if err := i.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusProcessing, ""); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
	}

	ec, err := i.configs.EmbeddingConfig(ctx, doc.TenantID)
	if err != nil {
		return i.fail(ctx, doc.ID, fmt.Errorf("resolve embedding config: %w", err))
	}

	data, err := i.obj.GetFile(ctx, i.bucket, doc.StoragePath)
	if err != nil {
		return i.fail(ctx, doc.ID, fmt.Errorf("get object: %w", err))
	}

	res, err := i.processor.ProcessDocument(ctx, data, doc.ContentType, doc.FileName, job.Overrides)
	if err != nil {
		if errors.Is(err, core.ErrExtraction) || errors.Is(err, core.ErrUnsupportedFormat) {
			i.discardBlob(ctx, doc.ID, doc.StoragePath)
		}
		return i.fail(ctx, doc.ID, err)
	}
	logger.Info("document extracted",
		zap.String("document_id", doc.ID),
		zap.String("file_type", res.FileType),
		zap.Int("chunks", len(res.Chunks)),
		zap.Int("tokens", res.TotalTokens))

	return i.pipeline.Run(ctx, doc.ID, doc.TenantID, res.Chunks, ec)
}

func (i *DocumentIngestor) fail(ctx context.Context, documentID string, cause error) error {
	if err := i.db.UpdateDocumentStatus(context.WithoutCancel(ctx), documentID, models.StatusError, cause.Error()); err != nil {
		logger.Error("could not record document failure", zap.String("document_id", documentID), zap.Error(err))
	}
	metrics.DocumentsProcessed.WithLabelValues(models.StatusError).Inc()
	return cause
}

// discardBlob removes the bytes of a document that can never be ingested.
// Failures are logged and counted, not returned.
func (i *DocumentIngestor) discardBlob(ctx context.Context, documentID, key string) {
	if key == "" {
		return
	}
	if err := i.obj.DeleteFile(context.WithoutCancel(ctx), i.bucket, key); err != nil {
		metrics.BlobCleanupFailures.Inc()
		logger.Warn("could not remove unreadable upload",
			zap.String("document_id", documentID), zap.String("key", key), zap.Error(err))
		return
	}
	logger.Debug("removed unreadable upload", zap.String("document_id", documentID), zap.String("key", key))
}

// Drain blocks until every queued job has finished.
func (i *DocumentIngestor) Drain() {
	i.inflight.Wait()
}

// Release drains the queue and stops the pool.
func (i *DocumentIngestor) Release() {
	i.Drain()
	i.pool.Release()
}
