package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/kbase/internal/api/middlewares"
	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/models"
	"github.com/markdave123-py/kbase/internal/services"
)

const defaultContentType = "application/octet-stream"

// DocumentAPI is the part of services.DocumentService the handlers call.
type DocumentAPI interface {
	UploadDocument(ctx context.Context, tenantID, filename, contentType string, data []byte, overrides *chunking.Overrides) (*services.UploadResult, error)
	GetDocumentStatus(ctx context.Context, tenantID, documentID string) (*models.Document, error)
	ListDocuments(ctx context.Context, tenantID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, tenantID, documentID string) error
	Search(ctx context.Context, tenantID, query string, limit int) []models.RankedChunk
}

var _ DocumentAPI = (*services.DocumentService)(nil)

type DocumentHandler struct {
	docs        DocumentAPI
	maxUploadMB int
}

func NewDocumentHandler(docs DocumentAPI, maxUploadMB int) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxUploadMB: maxUploadMB}
}

// UploadDocument accepts a multipart "file" and an optional "strategy" field
// holding chunking overrides as JSON.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	// Room for the multipart envelope on top of the file itself.
	limit := int64(h.maxUploadMB)<<20 + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, fmt.Errorf("%w: %w: request exceeds %d MB", core.ErrValidation, core.ErrFileTooLarge, h.maxUploadMB))
			return
		}
		writeError(w, r, fmt.Errorf("%w: invalid multipart form: %v", core.ErrValidation, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: missing file", core.ErrValidation))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	overrides, err := chunking.ParseOverrides([]byte(r.FormValue("strategy")))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	res, err := h.docs.UploadDocument(r.Context(), tenantID, filepath.Base(header.Filename), contentType, data, overrides)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	documents, err := h.docs.ListDocuments(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.docs.GetDocumentStatus(r.Context(), tenantID, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	if err := h.docs.DeleteDocument(r.Context(), tenantID, chi.URLParam(r, "documentID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type SearchResponse struct {
	Results []models.RankedChunk `json:"results"`
}

// Search always answers 200; retrieval failures surface as an empty result list.
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", core.ErrValidation))
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{Results: h.docs.Search(r.Context(), tenantID, req.Query, req.Limit)})
}
