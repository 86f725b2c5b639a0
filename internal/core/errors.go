package core

import "errors"

var (
	// ErrValidation marks input rejected before any work is done.
	ErrValidation = errors.New("validation failed")
	// ErrFileTooLarge is a validation failure for uploads above the size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedFormat is returned when no extractor handles the content type.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrExtraction means the bytes could not be parsed or produced no text.
	ErrExtraction = errors.New("extraction failed")

	// ErrEmbeddingTransient wraps provider failures worth retrying: rate
	// limits, quota and network timeouts.
	ErrEmbeddingTransient = errors.New("transient embedding failure")
	// ErrEmbeddingFatal wraps provider failures that no retry will fix.
	ErrEmbeddingFatal = errors.New("embedding failed")

	// ErrRetrieval marks a failed similarity search. Search surfaces it as an empty result.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrDimensionMismatch means a vector's length differs from the configured dimensions.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrDocumentNotFound is returned for unknown ids and for documents owned by another tenant.
	ErrDocumentNotFound = errors.New("document not found")
)
