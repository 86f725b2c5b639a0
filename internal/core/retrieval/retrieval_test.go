package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/database/badgerstore"
	"github.com/markdave123-py/kbase/internal/models"
)

var vocabulary = []string{"invoice", "payment", "refund", "shipping", "delivery", "password", "login", "account"}

// keywordEmbedder maps text to a bag-of-words vector over vocabulary, folding
// a few synonyms together.
type keywordEmbedder struct {
	err error
}

var synonyms = map[string]string{
	"invoices": "invoice", "bill": "invoice", "billing": "invoice",
	"pay": "payment", "paid": "payment", "payments": "payment",
	"ship": "shipping", "shipped": "shipping", "deliver": "delivery",
	"credentials": "password", "sign": "login", "signin": "login",
}

func (k keywordEmbedder) Embed(_ context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	vec := make([]float32, cfg.Dimensions)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,?!")
		if s, ok := synonyms[w]; ok {
			w = s
		}
		for i, v := range vocabulary {
			if v == w && i < len(vec) {
				vec[i]++
			}
		}
	}
	return vec, nil
}

var testCfg = models.EmbeddingConfig{Model: "kw", Dimensions: len(vocabulary)}

func seed(t *testing.T, store *badgerstore.Store, tenant string, texts ...string) {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{ID: uuid.NewString(), TenantID: tenant, Checksum: uuid.NewString(), Status: models.StatusReady}
	_, err := store.ReplaceDocument(ctx, doc)
	require.NoError(t, err)

	for i, text := range texts {
		vec, _ := keywordEmbedder{}.Embed(ctx, text, testCfg)
		require.NoError(t, store.InsertDocumentChunks(ctx, []models.DocumentChunk{{
			ID: uuid.NewString(), DocumentID: doc.ID, TenantID: tenant, Text: text, Embedding: vec, Position: i,
			Metadata: models.ChunkMetadata{SourceType: "text", EmbeddingModel: testCfg.Model, EmbeddingDimensions: testCfg.Dimensions},
		}}))
	}
}

func newStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearch_ParaphraseRanksFirst(t *testing.T) {
	store := newStore(t)
	seed(t, store, "t1",
		"Shipping and delivery take five days.",
		"Each invoice must be paid within thirty days; payment by transfer.",
		"Reset your password from the login page.",
	)
	seed(t, store, "t2", "Invoice payment rules for another tenant.")

	e := NewEngine(store, keywordEmbedder{}, core.StaticEmbeddingConfig(testCfg))
	hits := e.Search(context.Background(), "t1", "when are invoices paid", 3, nil)

	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Text, "invoice")
	for _, h := range hits {
		assert.Equal(t, "t1", h.TenantID)
		assert.Greater(t, h.Similarity, DefaultSimilarityThreshold)
	}
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
	}
}

func TestSearch_EmptyInputsAndCorpus(t *testing.T) {
	store := newStore(t)
	e := NewEngine(store, keywordEmbedder{}, core.StaticEmbeddingConfig(testCfg))

	hits := e.Search(context.Background(), "t1", "invoice", 3, nil)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	seed(t, store, "t1", "invoice payment")
	assert.Empty(t, e.Search(context.Background(), "t1", "   ", 3, nil))
	assert.Empty(t, e.Search(context.Background(), "t1", "zebra", 3, nil), "nothing above threshold")
}

func TestSearch_FailuresDegradeToEmpty(t *testing.T) {
	store := newStore(t)
	seed(t, store, "t1", "invoice payment")

	broken := NewEngine(store, keywordEmbedder{err: errors.New("provider down")}, core.StaticEmbeddingConfig(testCfg))
	hits := broken.Search(context.Background(), "t1", "invoice", 3, nil)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	e := NewEngine(store, keywordEmbedder{}, core.StaticEmbeddingConfig(testCfg))
	wide := models.EmbeddingConfig{Model: "kw", Dimensions: 16}
	assert.Empty(t, e.Search(context.Background(), "t1", "invoice", 3, &wide))
}

func TestResolveConfig(t *testing.T) {
	store := newStore(t)
	e := NewEngine(store, keywordEmbedder{}, core.StaticEmbeddingConfig(testCfg))
	ctx := context.Background()

	cfg, err := e.ResolveConfig(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, testCfg, cfg)

	seed(t, store, "t1", "invoice")

	explicit := models.EmbeddingConfig{Model: "other", Dimensions: 4}
	_, err = e.ResolveConfig(ctx, "t1", &explicit)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.ErrorIs(t, err, core.ErrRetrieval)

	_, err = e.ResolveConfig(ctx, "t1", &models.EmbeddingConfig{Model: "kw"})
	assert.ErrorIs(t, err, core.ErrRetrieval)
}

type fakeScorer struct {
	scores []Score
	err    error
	seen   []string
}

func (f *fakeScorer) Score(_ context.Context, _ string, texts []string) ([]Score, error) {
	f.seen = texts
	return f.scores, f.err
}

func ranked(texts ...string) []models.RankedChunk {
	out := make([]models.RankedChunk, len(texts))
	for i, t := range texts {
		out[i] = models.RankedChunk{DocumentChunk: models.DocumentChunk{Text: t, Position: i}, Similarity: 0.9 - float64(i)/10}
	}
	return out
}

func TestRerank_SortsFiltersAndTruncates(t *testing.T) {
	scorer := &fakeScorer{scores: []Score{
		{Index: 0, Score: 4, Reason: "partial"},
		{Index: 1, Score: 9, Reason: "direct"},
		{Index: 2, Score: 2, Reason: "off topic"},
		{Index: 3, Score: 9, Reason: "also direct"},
		{Index: 7, Score: 10, Reason: "out of range"},
	}}
	r := NewReranker(scorer, DefaultRerankCutoff)

	out := r.Rerank(context.Background(), "q", ranked("a", "b", "c", "d"), 2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Text)
	assert.Equal(t, "d", out[1].Text, "ties keep similarity order")
	assert.Equal(t, 9.0, *out[0].RerankScore)
	assert.Equal(t, "direct", out[0].RerankReason)
	assert.Equal(t, []string{"a", "b", "c", "d"}, scorer.seen)

	out = r.Rerank(context.Background(), "q", ranked("a", "b", "c", "d"), 10)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[2].Text)
}

func TestRerank_SmallInputsSkipScoring(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("must not be called")}
	r := NewReranker(scorer, DefaultRerankCutoff)

	assert.Empty(t, r.Rerank(context.Background(), "q", nil, 3))

	out := r.Rerank(context.Background(), "q", ranked("only"), 3)
	require.Len(t, out, 1)
	assert.Equal(t, NeutralScore, *out[0].RerankScore)
	assert.Nil(t, scorer.seen)
}

func TestRerank_FallbackKeepsSimilarityOrder(t *testing.T) {
	r := NewReranker(&fakeScorer{err: errors.New("llm timeout")}, DefaultRerankCutoff)
	in := ranked("a", "b", "c")

	out := r.Rerank(context.Background(), "q", in, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Text)
	assert.Equal(t, "b", out[1].Text)
	assert.Equal(t, NeutralScore, *out[1].RerankScore)
	assert.Nil(t, in[0].RerankScore, "input is not modified")
}

func TestSearch_WithRerankerFetchesWider(t *testing.T) {
	store := newStore(t)
	seed(t, store, "t1",
		"invoice payment terms",
		"invoice payment by card",
		"invoice payment reminders",
		"invoice payment disputes",
	)
	scorer := &fakeScorer{scores: []Score{{Index: 2, Score: 10}, {Index: 0, Score: 8}}}
	e := NewEngine(store, keywordEmbedder{}, core.StaticEmbeddingConfig(testCfg), WithReranker(NewReranker(scorer, 3)))

	hits := e.Search(context.Background(), "t1", "invoice payment", 1, nil)
	require.Len(t, hits, 1)
	assert.Len(t, scorer.seen, 3, "limit x 3 candidates")
	assert.Equal(t, 10.0, *hits[0].RerankScore)
}

type stubLLM struct {
	out    string
	err    error
	prompt string
}

func (s *stubLLM) Generate(_ context.Context, _ string, user string) (string, error) {
	s.prompt = user
	return s.out, s.err
}

func TestLLMRelevanceScorer(t *testing.T) {
	llm := &stubLLM{out: "Sure!\n```json\n[{\"index\": 1, \"score\": 12, \"reason\": \"exact\"}, {\"index\": 0, \"score\": -1, \"reason\": \"no\"}]\n```"}
	scores, err := NewLLMRelevanceScorer(llm).Score(context.Background(), "question?", []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, Score{Index: 1, Score: 10, Reason: "exact"}, scores[0])
	assert.Equal(t, 0.0, scores[1].Score)
	assert.Contains(t, llm.prompt, "Passage 1:\nsecond")

	_, err = NewLLMRelevanceScorer(&stubLLM{out: "I cannot rate these."}).Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)

	_, err = NewLLMRelevanceScorer(&stubLLM{err: errors.New("quota")}).Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
}
