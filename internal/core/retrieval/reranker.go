package retrieval

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/metrics"
	"github.com/markdave123-py/kbase/internal/models"
)

const (
	DefaultRerankCutoff = 3.0
	NeutralScore        = 5.0
)

// Score is one relevance judgement: Index points into the candidates passed
// to the scorer, Score is 0 to 10.
type Score struct {
	Index  int     `json:"index"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// RelevanceScorer judges how well each candidate text answers query.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, texts []string) ([]Score, error)
}

type Reranker struct {
	scorer RelevanceScorer
	cutoff float64
}

func NewReranker(scorer RelevanceScorer, cutoff float64) *Reranker {
	return &Reranker{scorer: scorer, cutoff: cutoff}
}

// Rerank scores chunks against query, drops those below the cutoff and
// returns the rest by descending score, at most topK of them. Equal scores
// keep their similarity order. If scoring fails the similarity order is kept
// with a neutral score.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []models.RankedChunk, topK int) []models.RankedChunk {
	if topK <= 0 {
		topK = len(chunks)
	}
	if len(chunks) <= 1 {
		return withNeutralScore(chunks, topK)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		metrics.RerankFallbacks.Inc()
		logger.Warn("rerank failed, keeping similarity order", zap.Int("candidates", len(chunks)), zap.Error(err))
		return withNeutralScore(chunks, topK)
	}

	byIndex := make(map[int]Score, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(chunks) {
			continue
		}
		if _, dup := byIndex[s.Index]; !dup {
			byIndex[s.Index] = s
		}
	}

	out := make([]models.RankedChunk, 0, len(byIndex))
	for i, c := range chunks {
		s, ok := byIndex[i]
		if !ok || s.Score < r.cutoff {
			continue
		}
		score := s.Score
		c.RerankScore = &score
		c.RerankReason = s.Reason
		out = append(out, c)
	}

	slices.SortStableFunc(out, func(a, b models.RankedChunk) int {
		switch {
		case *a.RerankScore > *b.RerankScore:
			return -1
		case *a.RerankScore < *b.RerankScore:
			return 1
		}
		return 0
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func withNeutralScore(chunks []models.RankedChunk, topK int) []models.RankedChunk {
	n := min(len(chunks), topK)
	out := make([]models.RankedChunk, n)
	for i := range n {
		c := chunks[i]
		score := NeutralScore
		c.RerankScore = &score
		out[i] = c
	}
	return out
}
