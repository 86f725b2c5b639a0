package extractors

import (
	"bytes"
	"context"
	"strings"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/models"
)

const (
	sourceText     = "text"
	sourceMarkdown = "markdown"
	sourceJSON     = "json"
	sourceCSV      = "csv"
	sourceExcel    = "excel"
	sourcePDF      = "pdf"
	sourceWord     = "word"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var _ core.Extractor = (*TextExtractor)(nil)

// TextExtractor chunks plain text linearly.
type TextExtractor struct {
	tokens tokenizer.Counter
}

func NewTextExtractor(tokens tokenizer.Counter) *TextExtractor {
	return &TextExtractor{tokens: tokens}
}

func (e *TextExtractor) SupportedMIMETypes() []string { return []string{MIMEText} }

func (e *TextExtractor) Extract(ctx context.Context, data []byte, _ string, s chunking.Strategy) ([]core.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return linearFragments(cleanText(data), s.Text, e.tokens, models.ChunkMetadata{SourceType: sourceText}), nil
}

// cleanText strips a UTF-8 BOM and replaces invalid byte sequences.
func cleanText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

func linearFragments(text string, ts chunking.TextStrategy, tokens tokenizer.Counter, meta models.ChunkMetadata) []core.Fragment {
	sp := chunking.NewSplitter(ts.ChunkSize, ts.ChunkOverlap, ts.RespectSentences, tokens)
	var out []core.Fragment
	for _, c := range sp.Split(text) {
		out = append(out, core.Fragment{Text: c, Metadata: meta})
	}
	return out
}
