package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/docfold/docgraph-backend/internal/ids"
	"github.com/docfold/docgraph-backend/internal/markdown"
	"github.com/docfold/docgraph-backend/internal/platform/ctxutil"
	"github.com/docfold/docgraph-backend/internal/platform/logger"
)

// IngestorDeps wires the ingestion pipeline. Graph and Vector are required;
// Embedder and Extractor failures are tolerated per chunk.
type IngestorDeps struct {
	Log       *logger.Logger
	Graph     GraphRepository
	Vector    VectorIndex
	Embedder  Embedder
	Extractor EntityExtractor
}

// Ingestor turns raw markdown plus metadata into graph nodes, edges and
// vector records. Document and section writes are fatal on failure; the
// per-chunk steps (embed, index, entities, code examples) are best-effort
// and independent of each other.
type Ingestor struct {
	log       *logger.Logger
	graph     GraphRepository
	vector    VectorIndex
	embedder  Embedder
	extractor EntityExtractor
}

func NewIngestor(deps IngestorDeps) (*Ingestor, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("ingestor: logger required")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("ingestor: graph repository required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("ingestor: vector index required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("ingestor: embedder required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("ingestor: entity extractor required")
	}
	return &Ingestor{
		log:       deps.Log.With("service", "Ingestor"),
		graph:     deps.Graph,
		vector:    deps.Vector,
		embedder:  deps.Embedder,
		extractor: deps.Extractor,
	}, nil
}

// sectionRef pairs a section with the body line its header starts on. The
// synthetic Introduction section carries line -1 so every chunk line sorts
// after it.
type sectionRef struct {
	section Section
	line    int
}

func (in *Ingestor) Ingest(ctx context.Context, content string, meta DocumentMeta) error {
	ctx = ctxutil.Default(ctx)
	meta.normalize()
	if meta.DocumentID == "" {
		return fmt.Errorf("ingest: missing document id")
	}

	body, _ := markdown.ParseFrontmatter(content)
	links := markdown.ExtractLinks(body)
	chunks := markdown.ChunkByHeaders(body)
	if len(chunks) == 0 {
		in.log.Info("ingest skipped: no chunks produced", "document_id", meta.DocumentID)
		return nil
	}

	sections := buildSections(meta.DocumentID, body)
	if len(sections) == 0 {
		// Chunks exist but no H2 and no pre-header content qualified, so
		// every chunk still needs an owner.
		sections = []sectionRef{introSection(meta.DocumentID, 0)}
	}

	if err := in.graph.UpsertDocument(ctx, Document{
		ID:             meta.DocumentID,
		Repository:     meta.Repository,
		FilePath:       meta.FilePath,
		Title:          meta.Title,
		DocType:        meta.DocType,
		PromotionLevel: meta.PromotionLevel,
		CommitHash:     meta.CommitHash,
	}); err != nil {
		return fmt.Errorf("ingest %s: upsert document: %w", meta.DocumentID, err)
	}
	for _, ref := range sections {
		if err := in.graph.UpsertSection(ctx, ref.section); err != nil {
			return fmt.Errorf("ingest %s: upsert section %s: %w", meta.DocumentID, ref.section.ID, err)
		}
	}

	var indexed, concepts, examples int
	for _, span := range chunks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingest %s: %w", meta.DocumentID, err)
		}

		chunk := Chunk{
			ID:         fmt.Sprintf("%s:chunk-%d", meta.DocumentID, span.Index),
			SectionID:  sectionForLine(sections, span.StartLine),
			DocumentID: meta.DocumentID,
			Content:    span.Content,
			Order:      span.Index,
			TokenCount: markdown.EstimateTokens(span.Content),
		}
		if err := in.graph.UpsertChunk(ctx, chunk); err != nil {
			return fmt.Errorf("ingest %s: upsert chunk %s: %w", meta.DocumentID, chunk.ID, err)
		}

		if in.indexChunk(ctx, chunk, span.HeaderPath, meta) {
			indexed++
		}
		concepts += in.extractChunkEntities(ctx, chunk)
		examples += in.storeCodeExamples(ctx, chunk)
	}

	linked := in.linkDocuments(ctx, meta, links)

	in.log.Info("document ingested",
		"document_id", meta.DocumentID,
		"repository", meta.Repository,
		"sections", len(sections),
		"chunks", len(chunks),
		"vectors_indexed", indexed,
		"concepts", concepts,
		"code_examples", examples,
		"links", linked,
	)
	return nil
}

// indexChunk embeds and indexes one chunk. Both halves are best-effort.
func (in *Ingestor) indexChunk(ctx context.Context, chunk Chunk, headerPath string, meta DocumentMeta) bool {
	vector, err := in.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		in.log.Warn("chunk embedding failed", "chunk_id", chunk.ID, "error", err)
		return false
	}
	err = in.vector.Index(ctx, VectorRecord{
		ChunkID: chunk.ID,
		Vector:  vector,
		Metadata: map[string]string{
			"document_id": chunk.DocumentID,
			"section_id":  chunk.SectionID,
			"chunk_id":    chunk.ID,
			"file_path":   meta.FilePath,
			"repository":  meta.Repository,
			"header_path": headerPath,
		},
	})
	if err != nil {
		in.log.Warn("chunk indexing failed", "chunk_id", chunk.ID, "error", err)
		return false
	}
	return true
}

func (in *Ingestor) extractChunkEntities(ctx context.Context, chunk Chunk) int {
	entities, err := in.extractor.Extract(ctx, chunk.Content)
	if err != nil {
		in.log.Warn("entity extraction failed", "chunk_id", chunk.ID, "error", err)
		return 0
	}
	stored := 0
	for _, ent := range entities {
		conceptID := ids.NormalizeConceptID(ent.Name)
		if conceptID == "concept:" {
			continue
		}
		concept := Concept{
			ID:          conceptID,
			Name:        ent.Name,
			Description: ent.Description,
			Category:    ent.Type,
			Aliases:     ent.Aliases,
		}
		if err := in.graph.UpsertConcept(ctx, concept); err != nil {
			in.log.Warn("concept upsert failed", "chunk_id", chunk.ID, "concept_id", conceptID, "error", err)
			continue
		}
		if err := in.graph.CreateRelationship(ctx, RelMentions, chunk.ID, conceptID); err != nil {
			in.log.Warn("mentions edge failed", "chunk_id", chunk.ID, "concept_id", conceptID, "error", err)
			continue
		}
		stored++
	}
	return stored
}

func (in *Ingestor) storeCodeExamples(ctx context.Context, chunk Chunk) int {
	stored := 0
	for i, block := range markdown.ExtractCodeBlocks(chunk.Content) {
		example := CodeExample{
			ID:       fmt.Sprintf("%s:code-%d", chunk.ID, i),
			ChunkID:  chunk.ID,
			Language: block.Language,
			Code:     block.Code,
		}
		if err := in.graph.UpsertCodeExample(ctx, example); err != nil {
			in.log.Warn("code example upsert failed", "chunk_id", chunk.ID, "example_id", example.ID, "error", err)
			continue
		}
		stored++
	}
	return stored
}

// linkDocuments creates LINKS_TO edges for internal markdown links. Targets
// need not exist yet; the edge stands as a forward reference to a
// placeholder node.
func (in *Ingestor) linkDocuments(ctx context.Context, meta DocumentMeta, links []markdown.Link) int {
	created := 0
	seen := make(map[string]struct{})
	for _, link := range links {
		if !markdown.IsInternalLink(link.URL) {
			continue
		}
		resolved := markdown.ResolveLink(meta.FilePath, link.URL)
		if resolved == "" {
			continue
		}
		targetID := strings.ToLower(meta.Repository) + ":" + resolved
		if targetID == meta.DocumentID {
			continue
		}
		if _, dup := seen[targetID]; dup {
			continue
		}
		seen[targetID] = struct{}{}
		if err := in.graph.CreateRelationship(ctx, RelLinksTo, meta.DocumentID, targetID); err != nil {
			in.log.Warn("links_to edge failed", "document_id", meta.DocumentID, "target_id", targetID, "error", err)
			continue
		}
		created++
	}
	return created
}

// Delete removes a document from both stores, vectors first. The first
// error is returned; the other side may stay stale until a retry.
func (in *Ingestor) Delete(ctx context.Context, documentID string) error {
	ctx = ctxutil.Default(ctx)
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return fmt.Errorf("delete: missing document id")
	}
	if err := in.vector.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete %s: vector store: %w", documentID, err)
	}
	if err := in.graph.DeleteDocumentCascade(ctx, documentID); err != nil {
		return fmt.Errorf("delete %s: graph: %w", documentID, err)
	}
	in.log.Info("document deleted", "document_id", documentID)
	return nil
}

// buildSections derives the section list from the body: an Introduction
// section when non-whitespace content precedes the first header and no H2
// sits on line 0, then one section per H2 in document order.
func buildSections(documentID, body string) []sectionRef {
	headers := markdown.ExtractHeaders(body)
	lines := strings.Split(body, "\n")

	firstHeaderLine := len(lines)
	if len(headers) > 0 {
		firstHeaderLine = headers[0].Line
	}
	preHeader := strings.Join(lines[:firstHeaderLine], "\n")
	h2AtTop := len(headers) > 0 && headers[0].Level == 2 && headers[0].Line == 0

	var out []sectionRef
	order := 0
	if strings.TrimSpace(preHeader) != "" && !h2AtTop {
		out = append(out, introSection(documentID, order))
		order++
	}
	for _, h := range headers {
		if h.Level != 2 {
			continue
		}
		slug := ids.NormalizeSectionID(h.Text)
		if slug == "" {
			slug = fmt.Sprintf("section-%d", order)
		}
		out = append(out, sectionRef{
			section: Section{
				ID:           documentID + ":" + slug,
				DocumentID:   documentID,
				Title:        h.Text,
				Order:        order,
				HeadingLevel: 2,
			},
			line: h.Line,
		})
		order++
	}
	return out
}

func introSection(documentID string, order int) sectionRef {
	return sectionRef{
		section: Section{
			ID:           documentID + ":" + ids.NormalizeSectionID("Introduction"),
			DocumentID:   documentID,
			Title:        "Introduction",
			Order:        order,
			HeadingLevel: 2,
		},
		line: -1,
	}
}

// sectionForLine picks the owning section: the last section whose header
// line is at or before the chunk's start line. Chunks before every H2 land
// on the Introduction section or, failing that, the first section.
func sectionForLine(sections []sectionRef, line int) string {
	chosen := sections[0].section.ID
	for _, ref := range sections {
		if ref.line <= line {
			chosen = ref.section.ID
		}
	}
	return chosen
}
