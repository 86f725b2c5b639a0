package chunking

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/logger"
)

var (
	sentenceSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", " ", ""}
	plainSeparators    = []string{"\n\n", "\n", " ", ""}
)

// Splitter breaks text into chunks of at most ChunkSize tokens with
// ChunkOverlap tokens shared between neighbours. Tokens are counted with the
// same tokenizer that fills Chunk.TokenCount.
type Splitter struct {
	ChunkSize        int
	ChunkOverlap     int
	RespectSentences bool

	tokens  tokenizer.Counter
	primary func(text string) ([]string, error)
}

// NewSplitter normalizes the size targets: a non-positive size becomes the
// default and an overlap that does not fit inside the size becomes a quarter of it.
// A nil counter selects tokenizer.Default.
func NewSplitter(size, overlap int, respectSentences bool, tokens tokenizer.Counter) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}

	if tokens == nil {
		tokens = tokenizer.Default()
	}

	s := &Splitter{ChunkSize: size, ChunkOverlap: overlap, RespectSentences: respectSentences, tokens: tokens}
	s.primary = s.recursiveSplit
	return s
}

// Split returns the non-empty chunks of text. It never fails: when the
// recursive splitter errors or panics the sentence accumulator takes over.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	chunks, err := s.safePrimary(text)
	if err != nil {
		logger.Warn("recursive splitter failed, using sentence chunker", zap.Error(err))
		return SentenceChunks(text, s.ChunkSize, s.ChunkOverlap, s.tokens)
	}
	return chunks
}

func (s *Splitter) safePrimary(text string) (out []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("splitter panic: %v", r)
		}
	}()

	raw, err := s.primary(text)
	if err != nil {
		return nil, err
	}
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("splitter returned no chunks")
	}
	return out, nil
}

func (s *Splitter) recursiveSplit(text string) ([]string, error) {
	seps := plainSeparators
	if s.RespectSentences {
		seps = sentenceSeparators
	}
	sp := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.ChunkSize),
		textsplitter.WithChunkOverlap(s.ChunkOverlap),
		textsplitter.WithSeparators(seps),
		textsplitter.WithLenFunc(s.tokens.Count),
	)
	return sp.SplitText(text)
}

// SentenceChunks accumulates whole sentences until the next one would push
// the chunk past size tokens, then starts a new chunk seeded with trailing
// sentences of at most overlap tokens. Sentences longer than size are cut
// between words, and single words between runes.
func SentenceChunks(text string, size, overlap int, tokens tokenizer.Counter) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}
	if tokens == nil {
		tokens = tokenizer.Default()
	}

	var (
		out []string
		buf []string
	)
	fits := func(parts []string, limit int) bool {
		return tokens.Count(strings.Join(parts, " ")) <= limit
	}

	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, strings.Join(buf, " "))

		keep := []string{}
		for j := len(buf) - 1; j >= 0; j-- {
			cand := append([]string{buf[j]}, keep...)
			if !fits(cand, overlap) {
				break
			}
			keep = cand
		}
		buf = keep
	}

	for _, sent := range splitSentences(text) {
		for _, piece := range hardWrap(sent, size, tokens) {
			if len(buf) > 0 && !fits(append(buf[:len(buf):len(buf)], piece), size) {
				flush()
				// The seeded tail plus this piece may still overflow.
				if len(buf) > 0 && !fits(append(buf[:len(buf):len(buf)], piece), size) {
					buf = nil
				}
			}
			buf = append(buf, piece)
		}
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, " "))
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' followed by whitespace, and at blank lines.
func splitSentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	runes := []rune(text)
	emit := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i, r := range runes {
		cur.WriteRune(r)
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch {
		case (r == '.' || r == '!' || r == '?') && (next == 0 || unicode.IsSpace(next)):
			emit()
		case r == '\n' && next == '\n':
			emit()
		}
	}
	emit()
	return out
}

// hardWrap cuts s into pieces of at most size tokens.
func hardWrap(s string, size int, tokens tokenizer.Counter) []string {
	if tokens.Count(s) <= size {
		return []string{s}
	}
	var (
		out []string
		cur string
	)
	for _, w := range strings.Fields(s) {
		if tokens.Count(w) > size {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			out = append(out, cutRunes(w, size, tokens)...)
			continue
		}
		if cur == "" {
			cur = w
			continue
		}
		if next := cur + " " + w; tokens.Count(next) <= size {
			cur = next
			continue
		}
		out = append(out, cur)
		cur = w
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// cutRunes takes the longest rune prefixes of w that fit in size tokens.
func cutRunes(w string, size int, tokens tokenizer.Counter) []string {
	var out []string
	r := []rune(w)
	for len(r) > 0 {
		n := 1
		for n < len(r) && tokens.Count(string(r[:n+1])) <= size {
			n++
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}
