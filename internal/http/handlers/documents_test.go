package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/docfold/docgraph-backend/internal/platform/apperr"
	"github.com/docfold/docgraph-backend/internal/rag"
)

type stubDocumentService struct {
	ingestErr error
	deleteErr error

	lastContent string
	lastMeta    rag.DocumentMeta
	lastDocID   string
}

func (s *stubDocumentService) Ingest(_ context.Context, content string, meta rag.DocumentMeta) error {
	s.lastContent = content
	s.lastMeta = meta
	return s.ingestErr
}

func (s *stubDocumentService) Delete(_ context.Context, documentID string) error {
	s.lastDocID = documentID
	return s.deleteErr
}

func documentRouter(svc *stubDocumentService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewDocumentHandler(svc)
	r.POST("/api/documents", h.Ingest)
	r.DELETE("/api/documents/*id", h.Delete)
	return r
}

func TestIngestHandler(t *testing.T) {
	svc := &stubDocumentService{}
	r := documentRouter(svc)

	body := `{"content":"# Hello","metadata":{"document_id":"r:a.md","repository":"r","file_path":"a.md","title":"A"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	if svc.lastContent != "# Hello" || svc.lastMeta.DocumentID != "r:a.md" {
		t.Fatalf("service call: content=%q meta=%+v", svc.lastContent, svc.lastMeta)
	}
}

func TestIngestHandlerMissingDocumentID(t *testing.T) {
	r := documentRouter(&stubDocumentService{})

	body := `{"content":"x","metadata":{"repository":"r"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_input") {
		t.Fatalf("body: got=%s", w.Body.String())
	}
}

func TestIngestHandlerUpstreamErrorMapsTo503(t *testing.T) {
	svc := &stubDocumentService{
		ingestErr: apperr.New(apperr.KindUpstreamUnavailable, "embedding service unavailable"),
	}
	r := documentRouter(svc)

	body := `{"content":"x","metadata":{"document_id":"r:a.md","repository":"r"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: want=503 got=%d", w.Code)
	}
}

func TestDeleteHandlerPassesFullDocumentID(t *testing.T) {
	svc := &stubDocumentService{}
	r := documentRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/r:docs/sub/a.md", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	if svc.lastDocID != "r:docs/sub/a.md" {
		t.Fatalf("document id: want=r:docs/sub/a.md got=%q", svc.lastDocID)
	}
}

func TestDeleteHandlerEmptyID(t *testing.T) {
	r := documentRouter(&stubDocumentService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", w.Code)
	}
}
