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

// QueryService is the retrieval surface the handler depends on.
type QueryService interface {
	Query(ctx context.Context, query string, opts rag.Options) (*rag.Result, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

// queryOptions uses pointers so absent fields fall back to defaults while
// explicit zero values survive.
type queryOptions struct {
	MaxChunks         *int     `json:"max_chunks"`
	MaxTraversalSteps *int     `json:"max_traversal_steps"`
	MinRelevanceScore *float64 `json:"min_relevance_score"`
	UseCrossRepoLinks *bool    `json:"use_cross_repo_links"`
	RepositoryFilter  string   `json:"repository_filter"`
	DocTypeFilter     string   `json:"doc_type_filter"`
}

type queryRequest struct {
	Query   string        `json:"query"`
	Options *queryOptions `json:"options"`
}

// POST /api/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apperr.KindInvalidInput), err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.RespondAppError(c, apperr.New(apperr.KindInvalidInput, "query is required"))
		return
	}

	opts := rag.DefaultOptions()
	if req.Options != nil {
		if req.Options.MaxChunks != nil {
			opts.MaxChunks = *req.Options.MaxChunks
		}
		if req.Options.MaxTraversalSteps != nil {
			opts.MaxTraversalSteps = *req.Options.MaxTraversalSteps
		}
		if req.Options.MinRelevanceScore != nil {
			opts.MinRelevanceScore = *req.Options.MinRelevanceScore
		}
		if req.Options.UseCrossRepoLinks != nil {
			opts.UseCrossRepoLinks = *req.Options.UseCrossRepoLinks
		}
		opts.RepositoryFilter = strings.TrimSpace(req.Options.RepositoryFilter)
		opts.DocTypeFilter = strings.TrimSpace(req.Options.DocTypeFilter)
	}

	result, err := h.svc.Query(c.Request.Context(), req.Query, opts)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, result)
}
