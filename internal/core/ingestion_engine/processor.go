package ingestion_engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/extractors"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/models"
)

// DefaultMaxUploadMB caps uploads when no limit is configured.
const DefaultMaxUploadMB = 10

// Chunk is the unit handed from the processor to the pipeline.
//
// Position:   dense, zero-based position of the chunk inside the document.
// Text:       chunk content.
// TokenCount: tokens in Text, from the shared tokenizer.
type Chunk struct {
	Position   int
	Text       string
	TokenCount int
	Metadata   models.ChunkMetadata
}

// ProcessingResult is the output of ProcessDocument.
type ProcessingResult struct {
	Chunks      []Chunk
	TotalTokens int
	FileType    string
	Checksum    string
}

// Processor validates uploads and turns them into numbered chunks.
type Processor struct {
	registry  *extractors.Registry
	tokens    tokenizer.Counter
	maxSizeMB int
}

func NewProcessor(registry *extractors.Registry, tokens tokenizer.Counter, maxSizeMB int) *Processor {
	if tokens == nil {
		tokens = tokenizer.Default()
	}
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxUploadMB
	}
	return &Processor{registry: registry, tokens: tokens, maxSizeMB: maxSizeMB}
}

// ValidateFile rejects empty and oversized input and content types no extractor handles.
func (p *Processor) ValidateFile(data []byte, contentType, filename string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty file", core.ErrValidation)
	}
	if limit := int64(p.maxSizeMB) << 20; int64(len(data)) > limit {
		return fmt.Errorf("%w: %w: %d bytes exceeds %d MB", core.ErrValidation, core.ErrFileTooLarge, len(data), p.maxSizeMB)
	}
	if _, _, err := p.registry.Resolve(contentType, filename); err != nil {
		return err
	}
	return nil
}

// CalculateChecksum returns the lowercase hex SHA-256 of data.
func CalculateChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ProcessDocument dispatches to the extractor for the content type and numbers the resulting chunks.
func (p *Processor) ProcessDocument(ctx context.Context, data []byte, contentType, filename string, overrides *chunking.Overrides) (*ProcessingResult, error) {
	ext, fileType, err := p.registry.Resolve(contentType, filename)
	if err != nil {
		return nil, err
	}

	frags, err := ext.Extract(ctx, data, filename, chunking.Merge(overrides))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, core.ErrExtraction) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrExtraction, err)
	}
	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: no text extracted from %q", core.ErrExtraction, filename)
	}

	res := &ProcessingResult{
		Chunks:   make([]Chunk, 0, len(frags)),
		FileType: fileType,
		Checksum: CalculateChecksum(data),
	}
	for i, f := range frags {
		n := p.tokens.Count(f.Text)
		res.Chunks = append(res.Chunks, Chunk{
			Position:   i,
			Text:       f.Text,
			TokenCount: n,
			Metadata:   f.Metadata,
		})
		res.TotalTokens += n
	}
	return res, nil
}
