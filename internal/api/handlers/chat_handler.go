package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	middleware "github.com/markdave123-py/kbase/internal/api/middlewares"
	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/services"
)

type Asker interface {
	Ask(ctx context.Context, tenantID, question string, limit int) (*services.Answer, error)
}

type ChatHandler struct {
	chat Asker
}

func NewChatHandler(chat Asker) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type ChatRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *ChatHandler) QueryKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request", core.ErrValidation))
		return
	}

	answer, err := h.chat.Ask(r.Context(), tenantID, req.Query, req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
