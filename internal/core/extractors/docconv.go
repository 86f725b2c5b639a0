package extractors

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/models"
)

// Converter turns binary office or PDF bytes into plain text plus metadata.
type Converter func(data []byte, mimeType string) (text string, meta map[string]string, err error)

// DocconvConverter uses sajari/docconv. PDF needs poppler-utils and .doc needs
// wv on the host.
func DocconvConverter(data []byte, mimeType string) (string, map[string]string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return "", nil, err
	}
	return res.Body, res.Meta, nil
}

var (
	_ core.Extractor = (*WordExtractor)(nil)
	_ core.Extractor = (*PDFExtractor)(nil)
)

// WordExtractor handles .docx and .doc through docconv, then chunks like plain text.
type WordExtractor struct {
	convert Converter
	tokens  tokenizer.Counter
}

func NewWordExtractor(conv Converter, tokens tokenizer.Counter) *WordExtractor {
	return &WordExtractor{convert: conv, tokens: tokens}
}

func (e *WordExtractor) SupportedMIMETypes() []string { return []string{MIMEDocx, MIMEDoc} }

func (e *WordExtractor) Extract(ctx context.Context, data []byte, filename string, s chunking.Strategy) ([]core.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mt := MIMEDocx
	if strings.EqualFold(filepath.Ext(filename), ".doc") {
		mt = MIMEDoc
	}
	text, _, err := e.convert(data, mt)
	if err != nil {
		return nil, fmt.Errorf("%w: word %q: %v", core.ErrExtraction, filename, err)
	}
	return linearFragments(cleanText([]byte(text)), s.Text, e.tokens, models.ChunkMetadata{SourceType: sourceWord}), nil
}

// PDFExtractor normalizes docconv's pdftotext output before linear chunking.
type PDFExtractor struct {
	convert Converter
	tokens  tokenizer.Counter
}

func NewPDFExtractor(conv Converter, tokens tokenizer.Counter) *PDFExtractor {
	return &PDFExtractor{convert: conv, tokens: tokens}
}

func (e *PDFExtractor) SupportedMIMETypes() []string { return []string{MIMEPDF} }

func (e *PDFExtractor) Extract(ctx context.Context, data []byte, filename string, s chunking.Strategy) ([]core.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, meta, err := e.convert(data, MIMEPDF)
	if err != nil {
		return nil, fmt.Errorf("%w: pdf %q: %v", core.ErrExtraction, filename, err)
	}

	text := NormalizePDFText(raw, s.PDF.PreserveParagraphs)
	md := models.ChunkMetadata{SourceType: sourcePDF, PageCount: pageCount(raw, meta)}
	ts := chunking.TextStrategy{
		ChunkSize:        s.PDF.ChunkSize,
		ChunkOverlap:     s.PDF.ChunkOverlap,
		RespectSentences: true,
	}
	return linearFragments(text, ts, e.tokens, md), nil
}

// NormalizePDFText cleans extracted PDF text. CRLF becomes LF, form feeds
// become paragraph breaks, runs of spaces and tabs collapse and lines are
// trimmed. With preserveParagraphs, lines inside a paragraph are joined and
// paragraphs are separated by exactly one blank line; otherwise all whitespace
// collapses to single spaces.
func NormalizePDFText(raw string, preserveParagraphs bool) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\f", "\n\n")

	if !preserveParagraphs {
		return strings.Join(strings.Fields(s), " ")
	}

	var (
		paras []string
		cur   []string
	)
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.FieldsFunc(line, isSpaceOrTab), " ")
		if line == "" {
			if len(cur) > 0 {
				paras = append(paras, strings.Join(cur, " "))
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		paras = append(paras, strings.Join(cur, " "))
	}
	return strings.Join(paras, "\n\n")
}

func isSpaceOrTab(r rune) bool { return r == ' ' || r == '\t' || r == '\v' }

// pageCount prefers the converter's page metadata, then counts form-feed separated pages.
func pageCount(raw string, meta map[string]string) int {
	if v, ok := meta["Pages"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	n := 0
	for _, page := range strings.Split(raw, "\f") {
		if strings.TrimSpace(page) != "" {
			n++
		}
	}
	if n == 0 && strings.TrimSpace(raw) != "" {
		n = 1
	}
	return n
}
