package core

import (
	"context"

	"github.com/markdave123-py/kbase/internal/models"
)

// DbClient defines all persistence operations the pipeline needs.
// It abstracts Postgres/pgvector and Badger so higher layers never depend on a specific DB.
type DbClient interface {
	// ReplaceDocument inserts doc and atomically removes any live document of the
	// same tenant with the same checksum. The removed row is returned so callers
	// can release its blob.
	ReplaceDocument(ctx context.Context, doc *models.Document) (superseded *models.Document, err error)
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByTenant(ctx context.Context, tenantID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error
	UpdateDocumentProgress(ctx context.Context, id string, processed, total int) error
	// DeleteDocument removes the document and all of its chunks.
	DeleteDocument(ctx context.Context, id string) error

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)

	// SearchChunks returns the tenant's chunks whose cosine similarity to vec is
	// strictly above threshold, most similar first.
	SearchChunks(ctx context.Context, tenantID string, vec []float32, threshold float64, limit int) ([]models.RankedChunk, error)
	// EmbeddingConfigs lists the distinct embedding configurations on the tenant's stored chunks.
	EmbeddingConfigs(ctx context.Context, tenantID string) ([]models.EmbeddingConfig, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
