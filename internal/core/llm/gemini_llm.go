package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/logger"
)

const (
	defaultGeminiGenModel = "gemini-1.5-flash"
	generateAttempts      = 2
	generateBackoff       = 2 * time.Second
)

// GeminiLLM answers questions and scores passages. Output is deterministic
// (temperature 0) so rerank scores are reproducible.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
}

var _ core.LLMProvider = (*GeminiLLM)(nil)

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("gemini api key not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = defaultGeminiGenModel
	}
	return &GeminiLLM{client: cl, modelName: modelName}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Generate retries once on rate limits and outages. A blocked or empty
// response is an error rather than an empty answer.
func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	// A model per call: SystemInstruction is per-request state.
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	if systemPrompt != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	for attempt := 1; attempt <= generateAttempts; attempt++ {
		resp, err = m.GenerateContent(ctx, genai.Text(userPrompt))
		if err == nil || !isTransient(err) || attempt == generateAttempts {
			break
		}
		logger.Warn("gemini generate failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(generateBackoff):
		}
	}
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	if u := resp.UsageMetadata; u != nil {
		logger.Debug("gemini usage",
			zap.String("model", g.modelName),
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("output_tokens", u.CandidatesTokenCount))
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini generate: empty response")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("gemini generate: prompt blocked (%s)", fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini generate: no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini generate: no text (finish reason %s)", resp.Candidates[0].FinishReason)
	}
	return b.String(), nil
}
