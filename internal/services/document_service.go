package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/extractors"
	"github.com/markdave123-py/kbase/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbase/internal/core/retrieval"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/metrics"
	"github.com/markdave123-py/kbase/internal/models"
)

const cleanupTimeout = 30 * time.Second

// UploadResult acknowledges an accepted upload; ingestion continues in the background.
type UploadResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type DocumentService struct {
	db        core.DbClient
	storage   core.ObjectClient
	bucket    string
	processor *ingestion_engine.Processor
	ingestor  ingestion_engine.Ingestor
	engine    *retrieval.Engine
}

func NewDocumentService(
	db core.DbClient,
	storage core.ObjectClient,
	bucket string,
	processor *ingestion_engine.Processor,
	ingestor ingestion_engine.Ingestor,
	engine *retrieval.Engine,
) *DocumentService {
	return &DocumentService{
		db:        db,
		storage:   storage,
		bucket:    bucket,
		processor: processor,
		ingestor:  ingestor,
		engine:    engine,
	}
}

// UploadDocument validates and stores the bytes, records the document
// (superseding any identical upload by the same tenant) and queues it for
// ingestion. Rejected input leaves no blob and no record behind.
func (s *DocumentService) UploadDocument(
	ctx context.Context,
	tenantID, filename, contentType string,
	data []byte,
	overrides *chunking.Overrides,
) (*UploadResult, error) {
	log := logger.L().With(zap.String("tenant", tenantID), zap.String("file", filename))

	if strings.TrimSpace(tenantID) == "" {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: tenant is required", core.ErrValidation)
	}
	if err := s.processor.ValidateFile(data, contentType, filename); err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, err
	}

	checksum := ingestion_engine.CalculateChecksum(data)
	key := s.objectKey(tenantID, contentType, filename)

	if _, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType); err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc := &models.Document{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		FileName:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		StoragePath: key,
		Checksum:    checksum,
		Status:      models.StatusUploaded,
	}

	superseded, err := s.db.ReplaceDocument(ctx, doc)
	if err != nil {
		s.attemptCleanup(ctx, key, "record failed")
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create document: %w", err)
	}
	if superseded != nil {
		log.Info("re-upload superseded document",
			zap.String("document_id", doc.ID), zap.String("superseded_id", superseded.ID))
		if superseded.StoragePath != key {
			s.attemptCleanup(ctx, superseded.StoragePath, "superseded")
		}
	}

	if err := s.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusProcessing, ""); err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	if err := s.ingestor.Enqueue(ingestion_engine.Job{DocumentID: doc.ID, TenantID: tenantID, Overrides: overrides}); err != nil {
		if uerr := s.db.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, models.StatusError, err.Error()); uerr != nil {
			log.Error("could not record queue failure", zap.String("document_id", doc.ID), zap.Error(uerr))
		}
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("queue ingestion: %w", err)
	}

	metrics.Uploads.WithLabelValues("accepted").Inc()
	log.Info("document queued", zap.String("document_id", doc.ID), zap.Int64("bytes", doc.SizeBytes))
	return &UploadResult{
		ID:      doc.ID,
		Status:  models.StatusProcessing,
		Message: "Document uploaded and queued for processing",
	}, nil
}

// GetDocumentStatus returns the document if it belongs to the tenant.
// Another tenant's document is reported as not found.
func (s *DocumentService) GetDocumentStatus(ctx context.Context, tenantID, documentID string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, documentID)
	}
	return doc, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context, tenantID string) ([]models.Document, error) {
	docs, err := s.db.ListDocumentsByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// DeleteDocument removes the document with its chunks, then releases its
// blob. A failed blob delete is logged and does not fail the call.
func (s *DocumentService) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	doc, err := s.GetDocumentStatus(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if err := s.db.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.attemptCleanup(ctx, doc.StoragePath, "deleted")
	logger.Info("document deleted", zap.String("tenant", tenantID), zap.String("document_id", doc.ID))
	return nil
}

// Search returns the tenant's most relevant chunks. It never fails.
func (s *DocumentService) Search(ctx context.Context, tenantID, query string, limit int) []models.RankedChunk {
	return s.engine.Search(ctx, tenantID, query, limit, nil)
}

// attemptCleanup deletes a blob best-effort: it logs and counts failures and
// never returns them.
func (s *DocumentService) attemptCleanup(ctx context.Context, key, reason string) {
	if key == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.storage.DeleteFile(cctx, s.bucket, key); err != nil {
		metrics.BlobCleanupFailures.Inc()
		logger.Warn("blob cleanup failed", zap.String("key", key), zap.String("reason", reason), zap.Error(err))
		return
	}
	logger.Debug("blob removed", zap.String("key", key), zap.String("reason", reason))
}

// objectKey lays blobs out as {tenant}/{unixMillis}-{random}.{ext}.
func (s *DocumentService) objectKey(tenantID, contentType, filename string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	key := fmt.Sprintf("%s/%d-%s", url.PathEscape(tenantID), time.Now().UnixMilli(), random)
	if ext := extractors.ExtensionFor(contentType, filename); ext != "" {
		key += "." + ext
	}
	return key
}
