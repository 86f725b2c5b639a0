package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/kbase/internal/core"
)

const scorerSystemPrompt = `You rate how relevant passages are to a question.
Return only a JSON array, one element per passage:
[{"index": <passage number>, "score": <0-10>, "reason": "<one short sentence>"}]
10 means the passage directly answers the question, 0 means it is unrelated.`

// LLMRelevanceScorer asks an LLM to grade candidates in one prompt.
type LLMRelevanceScorer struct {
	llm core.LLMProvider
}

var _ RelevanceScorer = (*LLMRelevanceScorer)(nil)

func NewLLMRelevanceScorer(llm core.LLMProvider) *LLMRelevanceScorer {
	return &LLMRelevanceScorer{llm: llm}
}

func (s *LLMRelevanceScorer) Score(ctx context.Context, query string, texts []string) ([]Score, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	for i, t := range texts {
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i, t)
	}

	raw, err := s.llm.Generate(ctx, scorerSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("relevance scoring: %w", err)
	}
	return parseScores(raw)
}

// parseScores accepts the array bare, inside a code fence, or surrounded by prose.
func parseScores(raw string) ([]Score, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array in scorer output")
	}

	var scores []Score
	if err := json.Unmarshal([]byte(raw[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("decode scorer output: %w", err)
	}
	for i := range scores {
		scores[i].Score = min(max(scores[i].Score, 0), 10)
	}
	return scores, nil
}
