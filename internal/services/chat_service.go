package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/models"
)

const (
	answerSystemPrompt = "You are an intelligent assistant answering based only on the given knowledge base content. If unsure, say 'I cannot find this in the knowledge base.'"
	notFoundAnswer     = "I cannot find this in the knowledge base."
)

// Answer is a generated reply with the passages it was grounded on.
type Answer struct {
	Answer  string               `json:"answer"`
	Sources []models.RankedChunk `json:"sources"`
}

// ChatService answers a question with one retrieval call followed by one
// generation call.
type ChatService struct {
	docs *DocumentService
	llm  core.LLMProvider
}

func NewChatService(docs *DocumentService, llm core.LLMProvider) *ChatService {
	return &ChatService{docs: docs, llm: llm}
}

func (c *ChatService) Ask(ctx context.Context, tenantID, question string, limit int) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", core.ErrValidation)
	}

	chunks := c.docs.Search(ctx, tenantID, question, limit)
	if len(chunks) == 0 {
		return &Answer{Answer: notFoundAnswer, Sources: chunks}, nil
	}
	if c.llm == nil {
		return nil, errors.New("no language model configured")
	}

	var sb strings.Builder
	for _, ch := range chunks {
		sb.WriteString(ch.Text)
		sb.WriteString("\n---\n")
	}
	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", sb.String(), question)

	answer, err := c.llm.Generate(ctx, answerSystemPrompt, userPrompt)
	if err != nil {
		logger.Error("answer generation failed", zap.String("tenant", tenantID), zap.Error(err))
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Answer{Answer: strings.TrimSpace(answer), Sources: chunks}, nil
}
