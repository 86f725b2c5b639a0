package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/kbase/internal/config"
	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/models"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	transient := []error{
		&googleapi.Error{Code: http.StatusTooManyRequests},
		&googleapi.Error{Code: http.StatusForbidden},
		fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusTooManyRequests}),
		api.StatusError{StatusCode: http.StatusTooManyRequests},
		status.Error(codes.ResourceExhausted, "quota"),
		status.Error(codes.PermissionDenied, "billing disabled"),
		status.Error(codes.DeadlineExceeded, "slow"),
		timeoutErr{},
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
		errors.New("read tcp 10.0.0.2:443: connection reset by peer"),
		fmt.Errorf("post: %w", context.DeadlineExceeded),
		errors.New("rpc error: RESOURCE_EXHAUSTED"),
		errors.New("API returned unexpected status code: 429: Rate limit reached"),
		errors.New("monthly quota exceeded"),
	}
	for _, err := range transient {
		assert.ErrorIs(t, classify("p", err), core.ErrEmbeddingTransient, err.Error())
	}

	fatal := []error{
		&googleapi.Error{Code: http.StatusBadRequest},
		&googleapi.Error{Code: http.StatusInternalServerError},
		fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusServiceUnavailable}),
		&googleapi.Error{Code: http.StatusBadRequest, Message: "model temporarily unavailable"},
		api.StatusError{StatusCode: http.StatusBadRequest, ErrorMessage: "rate limit field is invalid"},
		api.StatusError{StatusCode: http.StatusNotFound, ErrorMessage: "model not found"},
		status.Error(codes.InvalidArgument, "quota project is malformed"),
		status.Error(codes.Unavailable, "down"),
		errors.New("unexpected EOF in input"),
		errors.New("service unavailable"),
		errors.New("invalid api key"),
		context.Canceled,
	}
	for _, err := range fatal {
		assert.ErrorIs(t, classify("p", err), core.ErrEmbeddingFatal, err.Error())
	}

	assert.NoError(t, classify("p", nil))

	already := fmt.Errorf("%w: x", core.ErrEmbeddingFatal)
	assert.Same(t, already, classify("p", already))
}

func TestFitDimensions(t *testing.T) {
	v, err := fitDimensions([]float32{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)

	v, err = fitDimensions([]float32{3, 4, 12}, 2)
	require.NoError(t, err)
	require.Len(t, v, 2)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	_, err = fitDimensions([]float32{1, 2}, 3)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.ErrorIs(t, err, core.ErrEmbeddingFatal)

	v, err = fitDimensions([]float32{1, 2}, 0)
	require.NoError(t, err)
	assert.Len(t, v, 2)
}

type countingEmbedder struct{ calls atomic.Int32 }

func (c *countingEmbedder) Embed(context.Context, string, models.EmbeddingConfig) ([]float32, error) {
	c.calls.Add(1)
	return []float32{1}, nil
}

func TestRateLimitedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	r := NewRateLimitedEmbedder(inner, 20, 1)

	start := time.Now()
	for range 3 {
		_, err := r.Embed(context.Background(), "x", models.EmbeddingConfig{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), inner.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewRateLimitedEmbedder(inner, 0.001, 1)
	_, _ = slow.Embed(context.Background(), "x", models.EmbeddingConfig{})
	_, err := slow.Embed(ctx, "x", models.EmbeddingConfig{})
	assert.Error(t, err)

	unlimited := NewRateLimitedEmbedder(inner, 0, 0)
	_, err = unlimited.Embed(context.Background(), "x", models.EmbeddingConfig{})
	assert.NoError(t, err)
}

func TestOllamaEmbedder(t *testing.T) {
	var got api.EmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		switch got.Prompt {
		case "busy":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"server busy"}`))
			return
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model runner unavailable"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3, 0.4}})
	}))
	defer srv.Close()

	emb, err := NewOllamaEmbedder(srv.URL, "")
	require.NoError(t, err)

	vec, err := emb.Embed(context.Background(), "hello", models.EmbeddingConfig{Dimensions: 4})
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, defaultOllamaEmbedModel, got.Model)

	vec, err = emb.Embed(context.Background(), "hello", models.EmbeddingConfig{Model: "mxbai", Dimensions: 2})
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, "mxbai", got.Model)

	_, err = emb.Embed(context.Background(), "hello", models.EmbeddingConfig{Dimensions: 8})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = emb.Embed(context.Background(), "busy", models.EmbeddingConfig{Dimensions: 4})
	assert.ErrorIs(t, err, core.ErrEmbeddingTransient)

	_, err = emb.Embed(context.Background(), "broken", models.EmbeddingConfig{Dimensions: 4})
	assert.ErrorIs(t, err, core.ErrEmbeddingFatal)
}

func TestNewEmbeddingProvider(t *testing.T) {
	p, err := NewEmbeddingProvider(context.Background(), &config.Config{
		EmbedProvider: config.ProviderOllama, OllamaHost: "http://127.0.0.1:11434", EmbedRPS: 5, EmbedBatchSize: 5,
	})
	require.NoError(t, err)
	assert.IsType(t, &RateLimitedEmbedder{}, p)

	_, err = NewEmbeddingProvider(context.Background(), &config.Config{EmbedProvider: config.ProviderOpenAI})
	assert.NoError(t, err)

	_, err = NewEmbeddingProvider(context.Background(), &config.Config{EmbedProvider: "cohere"})
	assert.Error(t, err)
}

func TestResponseText(t *testing.T) {
	_, err := responseText(nil)
	assert.Error(t, err)

	_, err = responseText(&genai.GenerateContentResponse{
		PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety},
	})
	assert.ErrorContains(t, err, "blocked")

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.ErrorContains(t, err, "no candidates")

	_, err = responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewUserContent(), FinishReason: genai.FinishReasonMaxTokens,
	}}})
	assert.ErrorContains(t, err, "no text")

	text, err := responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("[{\"index\":0,"), genai.Text("\"score\":7}]")}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, `[{"index":0,"score":7}]`, text)
}

type closerEmbedder struct {
	closed bool
}

func (c *closerEmbedder) Embed(context.Context, string, models.EmbeddingConfig) ([]float32, error) {
	return nil, nil
}

func (c *closerEmbedder) Close() error {
	c.closed = true
	return nil
}

func TestRateLimitedEmbedder_Close(t *testing.T) {
	inner := &closerEmbedder{}
	require.NoError(t, NewRateLimitedEmbedder(inner, 0, 1).Close())
	assert.True(t, inner.closed)
}
