package models

import (
	"time"
)

// Document lifecycle states.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Document represents a tenant-uploaded file and its ingestion progress.
type Document struct {
	ID              string    `db:"id" json:"id"`
	TenantID        string    `db:"tenant_id" json:"tenant_id"`
	FileName        string    `db:"file_name" json:"file_name"`
	ContentType     string    `db:"content_type" json:"content_type"`
	SizeBytes       int64     `db:"size_bytes" json:"size_bytes"`
	StoragePath     string    `db:"storage_path" json:"storage_path"` // blob key inside the bucket
	Checksum        string    `db:"checksum" json:"checksum"`         // hex sha256 of the raw bytes
	Status          string    `db:"status" json:"status"`             // uploaded | processing | ready | error
	ErrorMessage    string    `db:"error_message" json:"error_message,omitempty"`
	ProcessedChunks int       `db:"processed_chunks" json:"processed_chunks"`
	TotalChunks     int       `db:"total_chunks" json:"total_chunks"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ChunkMetadata records where a chunk came from and how it was embedded.
type ChunkMetadata struct {
	SourceType string `json:"source_type"`
	Path       string `json:"path,omitempty"`    // JSON structural path
	Section    string `json:"section,omitempty"` // markdown heading path
	Sheet      string `json:"sheet,omitempty"`
	StartRow   int    `json:"start_row,omitempty"`
	EndRow     int    `json:"end_row,omitempty"`
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
	Depth      int    `json:"depth,omitempty"`
	PageCount  int    `json:"page_count,omitempty"`

	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID         string        `db:"id" json:"id"`
	DocumentID string        `db:"document_id" json:"document_id"`
	TenantID   string        `db:"tenant_id" json:"tenant_id"`
	Text       string        `db:"text" json:"text"`
	Embedding  []float32     `db:"embedding" json:"embedding,omitempty"` // pgvector column
	Position   int           `db:"position" json:"position"`
	TokenCount int           `db:"token_count" json:"token_count"`
	Metadata   ChunkMetadata `db:"metadata" json:"metadata"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// RankedChunk is a retrieval hit.
type RankedChunk struct {
	DocumentChunk
	Similarity   float64  `json:"similarity"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`
	RerankReason string   `json:"rerank_reason,omitempty"`
}

// EmbeddingConfig names the model and vector size used to embed chunks and queries.
type EmbeddingConfig struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}
