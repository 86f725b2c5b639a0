package core

import (
	"context"

	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/models"
)

// Fragment is one chunk-sized piece of extracted text with its provenance.
type Fragment struct {
	Text     string
	Metadata models.ChunkMetadata
}

// Extractor turns raw document bytes into ordered fragments.
type Extractor interface {
	// SupportedMIMETypes lists the normalized content types this extractor handles.
	SupportedMIMETypes() []string
	// Extract parses data and chunks it according to the strategy for its format.
	Extract(ctx context.Context, data []byte, filename string, strategy chunking.Strategy) ([]Fragment, error)
}
