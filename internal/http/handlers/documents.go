package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docfold/docgraph-backend/internal/http/response"
	"github.com/docfold/docgraph-backend/internal/platform/apperr"
	"github.com/docfold/docgraph-backend/internal/rag"
)

// DocumentService is the ingestion surface the handler depends on.
type DocumentService interface {
	Ingest(ctx context.Context, content string, meta rag.DocumentMeta) error
	Delete(ctx context.Context, documentID string) error
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type ingestRequest struct {
	Content  string           `json:"content"`
	Metadata rag.DocumentMeta `json:"metadata"`
}

// POST /api/documents
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apperr.KindInvalidInput), err)
		return
	}
	if strings.TrimSpace(req.Metadata.DocumentID) == "" {
		response.RespondAppError(c, apperr.New(apperr.KindInvalidInput, "metadata.document_id is required"))
		return
	}
	if strings.TrimSpace(req.Metadata.Repository) == "" {
		response.RespondAppError(c, apperr.New(apperr.KindInvalidInput, "metadata.repository is required"))
		return
	}

	if err := h.svc.Ingest(c.Request.Context(), req.Content, req.Metadata); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document_id": req.Metadata.DocumentID, "status": "ingested"})
}

// DELETE /api/documents/*id
// Document ids contain ":" and "/" so the route is a catch-all.
func (h *DocumentHandler) Delete(c *gin.Context) {
	documentID := strings.TrimPrefix(c.Param("id"), "/")
	if strings.TrimSpace(documentID) == "" {
		response.RespondAppError(c, apperr.New(apperr.KindInvalidInput, "document id is required"))
		return
	}

	if err := h.svc.Delete(c.Request.Context(), documentID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document_id": documentID, "status": "deleted"})
}
