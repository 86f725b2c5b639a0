// Package tokenizer counts tokens for chunk accounting.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/logger"
)

const encodingName = "cl100k_base"

// Counter returns the number of tokens in a string.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts with the cl100k_base encoding.
type Tiktoken struct {
	tok *tiktoken.Tiktoken
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.tok.Encode(text, nil, nil))
}

// Approx estimates ~4 characters per token.
type Approx struct{}

func (Approx) Count(text string) int {
	n := len([]rune(text))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

var (
	once    sync.Once
	counter Counter
)

// Default loads the encoder once. Loading the BPE ranks may need network
// access; when it fails the approximate counter is used for the process lifetime.
func Default() Counter {
	once.Do(func() {
		tok, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			logger.Warn("Failed to get token encoder, using approximate counts", zap.Error(err))
			counter = Approx{}
			return
		}
		counter = &Tiktoken{tok: tok}
	})
	return counter
}
