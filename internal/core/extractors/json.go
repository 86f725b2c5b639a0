package extractors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/models"
)

var _ core.Extractor = (*JSONExtractor)(nil)

type nodeKind int

const (
	kindScalar nodeKind = iota
	kindObject
	kindArray
)

// jsonNode is a decoded JSON value that remembers object key order.
type jsonNode struct {
	kind   nodeKind
	keys   []string
	fields []*jsonNode // object values, parallel to keys
	items  []*jsonNode // array elements
	scalar any         // string, json.Number, bool or nil
}

// MarshalJSON writes the node compactly with keys in source order.
func (n *jsonNode) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	if err := n.write(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (n *jsonNode) write(b *bytes.Buffer) error {
	switch n.kind {
	case kindObject:
		b.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			if err := n.fields[i].write(b); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case kindArray:
		b.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := it.write(b); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		sb, err := json.Marshal(n.scalar)
		if err != nil {
			return err
		}
		b.Write(sb)
	}
	return nil
}

func (n *jsonNode) String() string {
	b, _ := n.MarshalJSON()
	return string(b)
}

// scalarText renders a scalar without JSON quoting.
func (n *jsonNode) scalarText() string {
	switch v := n.scalar.(type) {
	case nil:
		return "null"
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(n.scalar)
}

// decodeOrdered parses exactly one JSON value.
func decodeOrdered(data []byte) (*jsonNode, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return n, nil
}

func decodeValue(dec *json.Decoder) (*jsonNode, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			n := &jsonNode{kind: kindObject}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				n.keys = append(n.keys, key)
				n.fields = append(n.fields, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		case '[':
			n := &jsonNode{kind: kindArray}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				n.items = append(n.items, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return &jsonNode{kind: kindScalar, scalar: t}, nil
	}
}

// JSONExtractor chunks JSON documents either along their structure or as
// flattened text. Budgets are in tokens.
type JSONExtractor struct {
	tokens tokenizer.Counter
}

func NewJSONExtractor(tokens tokenizer.Counter) *JSONExtractor {
	if tokens == nil {
		tokens = tokenizer.Default()
	}
	return &JSONExtractor{tokens: tokens}
}

func (e *JSONExtractor) SupportedMIMETypes() []string {
	return []string{MIMEJSON, "text/json"}
}

func (e *JSONExtractor) Extract(ctx context.Context, data []byte, filename string, s chunking.Strategy) ([]core.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := decodeOrdered([]byte(cleanText(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: json %q: %v", core.ErrExtraction, filename, err)
	}

	js := s.JSON
	if js.MaxChunkSize <= 0 {
		js.MaxChunkSize = chunking.DefaultChunkSize
	}
	if js.MaxDepth < 0 {
		js.MaxDepth = 0
	}

	if !js.PreserveStructure {
		var b strings.Builder
		flatten(&b, root, 0)
		ts := chunking.TextStrategy{ChunkSize: js.MaxChunkSize, ChunkOverlap: js.ChunkOverlap, RespectSentences: false}
		return linearFragments(b.String(), ts, e.tokens, models.ChunkMetadata{SourceType: sourceJSON}), nil
	}

	w := &structWalker{max: js.MaxChunkSize, maxDepth: js.MaxDepth, count: e.tokens.Count}
	w.walk(root, "$", 0)
	return w.out, nil
}

type structWalker struct {
	max      int
	maxDepth int
	count    func(string) int
	out      []core.Fragment
}

func (w *structWalker) emit(text, path string, start, end *int, depth int) {
	w.out = append(w.out, core.Fragment{
		Text: text,
		Metadata: models.ChunkMetadata{
			SourceType: sourceJSON,
			Path:       path,
			StartIndex: start,
			EndIndex:   end,
			Depth:      depth,
		},
	})
}

func (w *structWalker) walk(n *jsonNode, path string, depth int) {
	switch n.kind {
	case kindScalar:
		w.emit(path+": "+n.scalarText(), path, nil, nil, depth)
	case kindObject:
		s := n.String()
		if w.count(s) <= w.max || depth >= w.maxDepth || len(n.keys) == 0 {
			w.emit(s, path, nil, nil, depth)
			return
		}
		for i, k := range n.keys {
			w.walk(n.fields[i], childPath(path, k), depth+1)
		}
	case kindArray:
		w.walkArray(n, path, depth)
	}
}

// walkArray groups contiguous elements while the serialized run fits the
// budget. Brackets and commas are counted as one token each.
func (w *structWalker) walkArray(n *jsonNode, path string, depth int) {
	if len(n.items) == 0 {
		w.emit("[]", path, nil, nil, depth)
		return
	}

	var (
		run    []string
		runLen int
		start  int
	)
	flush := func(end int) {
		if len(run) == 0 {
			return
		}
		s, e := start, end
		w.emit("["+strings.Join(run, ",")+"]", path, &s, &e, depth)
		run, runLen = nil, 0
	}

	for i, it := range n.items {
		s := it.String()
		n := w.count(s)
		if n+2 > w.max {
			flush(i - 1)
			if it.kind != kindScalar && depth < w.maxDepth {
				w.walk(it, fmt.Sprintf("%s[%d]", path, i), depth+1)
			} else {
				idx := i
				w.emit(s, fmt.Sprintf("%s[%d]", path, i), &idx, &idx, depth)
			}
			continue
		}
		// brackets plus a comma per extra element
		if len(run) > 0 && runLen+n+len(run)+2 > w.max {
			flush(i - 1)
		}
		if len(run) == 0 {
			start = i
		}
		run = append(run, s)
		runLen += n
	}
	flush(len(n.items) - 1)
}

func childPath(parent, key string) string {
	if key != "" && !strings.ContainsAny(key, ".[]\"' ") {
		return parent + "." + key
	}
	q, _ := json.Marshal(key)
	return parent + "[" + string(q) + "]"
}

// flatten renders indented "key: value" lines.
func flatten(b *strings.Builder, n *jsonNode, indent int) {
	pad := strings.Repeat("  ", indent)
	switch n.kind {
	case kindObject:
		for i, k := range n.keys {
			v := n.fields[i]
			if v.kind == kindScalar {
				fmt.Fprintf(b, "%s%s: %s\n", pad, k, v.scalarText())
				continue
			}
			fmt.Fprintf(b, "%s%s:\n", pad, k)
			flatten(b, v, indent+1)
		}
	case kindArray:
		for i, it := range n.items {
			if it.kind == kindScalar {
				fmt.Fprintf(b, "%s- %s\n", pad, it.scalarText())
				continue
			}
			fmt.Fprintf(b, "%s[%d]:\n", pad, i)
			flatten(b, it, indent+1)
		}
	default:
		fmt.Fprintf(b, "%s%s\n", pad, n.scalarText())
	}
}
