package extractors

import (
	"bytes"
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/models"
)

var _ core.Extractor = (*MarkdownExtractor)(nil)

// MarkdownExtractor splits a document at its top-level headings and chunks
// every section with the text strategy.
type MarkdownExtractor struct {
	md     goldmark.Markdown
	tokens tokenizer.Counter
}

func NewMarkdownExtractor(tokens tokenizer.Counter) *MarkdownExtractor {
	return &MarkdownExtractor{md: goldmark.New(), tokens: tokens}
}

func (e *MarkdownExtractor) SupportedMIMETypes() []string {
	return []string{MIMEMarkdown, "text/x-markdown"}
}

type mdSection struct {
	path  string
	title string
	body  string
}

func (e *MarkdownExtractor) Extract(ctx context.Context, data []byte, _ string, s chunking.Strategy) ([]core.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := []byte(cleanText(data))
	sections := e.sections(src)
	if len(sections) == 0 {
		return linearFragments(string(src), s.Text, e.tokens, models.ChunkMetadata{SourceType: sourceMarkdown}), nil
	}

	var out []core.Fragment
	for _, sec := range sections {
		body := strings.TrimSpace(sec.body)
		content := body
		if sec.title != "" {
			content = strings.TrimSpace(sec.title + "\n\n" + body)
		}
		if content == "" {
			continue
		}
		md := models.ChunkMetadata{SourceType: sourceMarkdown, Section: sec.path}
		out = append(out, linearFragments(content, s.Text, e.tokens, md)...)
	}
	return out, nil
}

type headingMark struct {
	level     int
	title     string
	lineStart int // offset of the heading's first line
	bodyStart int // offset just past the heading block
}

// sections returns nil when the document has no top-level headings.
func (e *MarkdownExtractor) sections(src []byte) []mdSection {
	doc := e.md.Parser().Parse(text.NewReader(src))

	var marks []headingMark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		first := h.Lines().At(0)
		last := h.Lines().At(h.Lines().Len() - 1)
		marks = append(marks, headingMark{
			level:     h.Level,
			title:     headingText(h, src),
			lineStart: lineStart(src, first.Start),
			bodyStart: headingEnd(src, last.Stop),
		})
	}
	if len(marks) == 0 {
		return nil
	}

	var out []mdSection
	if pre := string(src[:marks[0].lineStart]); strings.TrimSpace(pre) != "" {
		out = append(out, mdSection{body: pre})
	}

	var stack []headingMark
	for i, m := range marks {
		for len(stack) > 0 && stack[len(stack)-1].level >= m.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, m)

		titles := make([]string, len(stack))
		for j, sm := range stack {
			titles[j] = sm.title
		}

		end := len(src)
		if i+1 < len(marks) {
			end = marks[i+1].lineStart
		}
		body := ""
		if m.bodyStart < end {
			body = string(src[m.bodyStart:end])
		}
		out = append(out, mdSection{
			path:  strings.Join(titles, " > "),
			title: m.title,
			body:  body,
		})
	}
	return out
}

func headingText(h *ast.Heading, src []byte) string {
	var b bytes.Buffer
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func lineStart(src []byte, off int) int {
	if off > len(src) {
		off = len(src)
	}
	if i := bytes.LastIndexByte(src[:off], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

// headingEnd skips the rest of the heading line and a setext underline if present.
func headingEnd(src []byte, off int) int {
	next := func(from int) int {
		if from >= len(src) {
			return len(src)
		}
		if i := bytes.IndexByte(src[from:], '\n'); i >= 0 {
			return from + i + 1
		}
		return len(src)
	}
	end := next(off)
	underline := bytes.TrimSpace(src[end:next(end)])
	if len(underline) > 0 && (len(bytes.Trim(underline, "=")) == 0 || len(bytes.Trim(underline, "-")) == 0) {
		return next(end)
	}
	return end
}
