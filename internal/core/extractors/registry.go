// Package extractors turns uploaded files into chunk-sized fragments, one extractor per format family.
package extractors

import (
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
)

// MIME types handled out of the box.
const (
	MIMEText     = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMEJSON     = "application/json"
	MIMECSV      = "text/csv"
	MIMEXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEPDF      = "application/pdf"
	MIMEDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEDoc      = "application/msword"
	MIMEOctet    = "application/octet-stream"
)

var extensionTypes = map[string]string{
	".txt":      MIMEText,
	".text":     MIMEText,
	".log":      MIMEText,
	".md":       MIMEMarkdown,
	".markdown": MIMEMarkdown,
	".json":     MIMEJSON,
	".csv":      MIMECSV,
	".xlsx":     MIMEXLSX,
	".pdf":      MIMEPDF,
	".docx":     MIMEDocx,
	".doc":      MIMEDoc,
}

// Registry maps normalized MIME types to extractors.
type Registry struct {
	byType map[string]core.Extractor
}

// NewRegistry registers each extractor under every type it reports. Later
// extractors win when two claim the same type.
func NewRegistry(extractors ...core.Extractor) *Registry {
	r := &Registry{byType: make(map[string]core.Extractor)}
	for _, e := range extractors {
		for _, t := range e.SupportedMIMETypes() {
			r.byType[NormalizeMIME(t)] = e
		}
	}
	return r
}

// NewDefaultRegistry wires every built-in extractor. conv converts PDF and Word
// bytes to text; nil selects docconv. tokens measures chunk sizes and should be
// the counter the processor uses for TokenCount; nil selects tokenizer.Default.
func NewDefaultRegistry(conv Converter, tokens tokenizer.Counter) *Registry {
	if conv == nil {
		conv = DocconvConverter
	}
	if tokens == nil {
		tokens = tokenizer.Default()
	}
	return NewRegistry(
		NewTextExtractor(tokens),
		NewMarkdownExtractor(tokens),
		NewJSONExtractor(tokens),
		NewCSVExtractor(),
		NewExcelExtractor(),
		NewPDFExtractor(conv, tokens),
		NewWordExtractor(conv, tokens),
	)
}

// Resolve finds the extractor for a content type. Empty and octet-stream types
// are resolved from the filename extension. It also returns the effective type.
func (r *Registry) Resolve(contentType, filename string) (core.Extractor, string, error) {
	ct := NormalizeMIME(contentType)
	if ct == "" || ct == MIMEOctet {
		ct = MIMEFromFilename(filename)
	}
	if e, ok := r.byType[ct]; ok {
		return e, ct, nil
	}
	if ct == "" {
		ct = contentType
	}
	return nil, ct, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, ct)
}

// SupportedTypes lists the registered MIME types, sorted.
func (r *Registry) SupportedTypes() []string {
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeMIME lowercases a content type and strips its parameters.
func NormalizeMIME(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// MIMEFromFilename maps a known extension to its MIME type, or "".
func MIMEFromFilename(name string) string {
	return extensionTypes[strings.ToLower(filepath.Ext(name))]
}

// ExtensionFor returns the canonical extension for a MIME type, without the dot.
func ExtensionFor(contentType, filename string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" {
		return ext
	}
	switch NormalizeMIME(contentType) {
	case MIMEText:
		return "txt"
	case MIMEMarkdown:
		return "md"
	case MIMEJSON:
		return "json"
	case MIMECSV:
		return "csv"
	case MIMEXLSX:
		return "xlsx"
	case MIMEPDF:
		return "pdf"
	case MIMEDocx:
		return "docx"
	case MIMEDoc:
		return "doc"
	}
	return "bin"
}
