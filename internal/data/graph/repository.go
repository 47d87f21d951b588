// Package graph is the Neo4j implementation of the property-graph store.
// Node labels: Document, Section, Chunk, Concept, CodeExample. All writes
// are idempotent MERGEs keyed by node id.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/docfold/docgraph-backend/internal/platform/ctxutil"
	"github.com/docfold/docgraph-backend/internal/platform/logger"
	"github.com/docfold/docgraph-backend/internal/platform/neo4jdb"
	"github.com/docfold/docgraph-backend/internal/rag"
)

// relEndpoints pins every edge type to its endpoint labels. Relationship
// types cannot be parameterized in Cypher, so only allowlisted types run.
var relEndpoints = map[string][2]string{
	rag.RelHasSection:     {"Document", "Section"},
	rag.RelHasChunk:       {"Section", "Chunk"},
	rag.RelMentions:       {"Chunk", "Concept"},
	rag.RelHasCodeExample: {"Chunk", "CodeExample"},
	rag.RelLinksTo:        {"Document", "Document"},
}

type Repository struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

var _ rag.GraphRepository = (*Repository)(nil)

func NewRepository(log *logger.Logger, client *neo4jdb.Client) (*Repository, error) {
	if log == nil {
		return nil, fmt.Errorf("graph: logger required")
	}
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	r := &Repository{
		client: client,
		log:    log.With("service", "GraphRepository"),
	}
	r.bootstrapSchema(context.Background())
	return r, nil
}

// bootstrapSchema creates unique-id constraints per label. Best-effort: it
// may fail for restricted users, which only costs upsert performance.
func (r *Repository) bootstrapSchema(ctx context.Context) {
	statements := []string{
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT section_id_unique IF NOT EXISTS FOR (s:Section) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (k:Concept) REQUIRE k.id IS UNIQUE`,
		`CREATE CONSTRAINT code_example_id_unique IF NOT EXISTS FOR (e:CodeExample) REQUIRE e.id IS UNIQUE`,
	}
	session := r.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, stmt := range statements {
		if res, err := session.Run(ctx, stmt, nil); err != nil {
			r.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func (r *Repository) newSession(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.client.Driver.NewSession(ctxutil.Default(ctx), neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.client.Database,
	})
}

func (r *Repository) write(ctx context.Context, cypher string, params map[string]any) error {
	ctx = ctxutil.Default(ctx)
	session := r.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (r *Repository) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	ctx = ctxutil.Default(ctx)
	session := r.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

func (r *Repository) UpsertDocument(ctx context.Context, doc rag.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("graph: upsert document: missing id")
	}
	return r.write(ctx, `
MERGE (d:Document {id: $id})
SET d.repository = $repository,
    d.file_path = $file_path,
    d.title = $title,
    d.doc_type = $doc_type,
    d.promotion_level = $promotion_level,
    d.commit_hash = $commit_hash
`, map[string]any{
		"id":              doc.ID,
		"repository":      doc.Repository,
		"file_path":       doc.FilePath,
		"title":           doc.Title,
		"doc_type":        doc.DocType,
		"promotion_level": doc.PromotionLevel,
		"commit_hash":     doc.CommitHash,
	})
}

func (r *Repository) UpsertSection(ctx context.Context, sec rag.Section) error {
	if strings.TrimSpace(sec.ID) == "" || strings.TrimSpace(sec.DocumentID) == "" {
		return fmt.Errorf("graph: upsert section: missing id or document id")
	}
	return r.write(ctx, `
MERGE (s:Section {id: $id})
SET s.document_id = $document_id,
    s.title = $title,
    s.order = $order,
    s.heading_level = $heading_level
WITH s
MATCH (d:Document {id: $document_id})
MERGE (d)-[:HAS_SECTION]->(s)
`, map[string]any{
		"id":            sec.ID,
		"document_id":   sec.DocumentID,
		"title":         sec.Title,
		"order":         int64(sec.Order),
		"heading_level": int64(sec.HeadingLevel),
	})
}

func (r *Repository) UpsertChunk(ctx context.Context, chunk rag.Chunk) error {
	if strings.TrimSpace(chunk.ID) == "" || strings.TrimSpace(chunk.SectionID) == "" {
		return fmt.Errorf("graph: upsert chunk: missing id or section id")
	}
	return r.write(ctx, `
MERGE (c:Chunk {id: $id})
SET c.section_id = $section_id,
    c.document_id = $document_id,
    c.content = $content,
    c.order = $order,
    c.token_count = $token_count
WITH c
MATCH (s:Section {id: $section_id})
MERGE (s)-[:HAS_CHUNK]->(c)
`, map[string]any{
		"id":          chunk.ID,
		"section_id":  chunk.SectionID,
		"document_id": chunk.DocumentID,
		"content":     chunk.Content,
		"order":       int64(chunk.Order),
		"token_count": int64(chunk.TokenCount),
	})
}

func (r *Repository) UpsertConcept(ctx context.Context, concept rag.Concept) error {
	if strings.TrimSpace(concept.ID) == "" {
		return fmt.Errorf("graph: upsert concept: missing id")
	}
	aliases := concept.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return r.write(ctx, `
MERGE (k:Concept {id: $id})
SET k.name = $name,
    k.description = $description,
    k.category = $category,
    k.aliases = $aliases
`, map[string]any{
		"id":          concept.ID,
		"name":        concept.Name,
		"description": concept.Description,
		"category":    concept.Category,
		"aliases":     aliases,
	})
}

func (r *Repository) UpsertCodeExample(ctx context.Context, example rag.CodeExample) error {
	if strings.TrimSpace(example.ID) == "" || strings.TrimSpace(example.ChunkID) == "" {
		return fmt.Errorf("graph: upsert code example: missing id or chunk id")
	}
	return r.write(ctx, `
MERGE (e:CodeExample {id: $id})
SET e.chunk_id = $chunk_id,
    e.language = $language,
    e.code = $code
WITH e
MATCH (c:Chunk {id: $chunk_id})
MERGE (c)-[:HAS_CODE_EXAMPLE]->(e)
`, map[string]any{
		"id":       example.ID,
		"chunk_id": example.ChunkID,
		"language": example.Language,
		"code":     example.Code,
	})
}

// CreateRelationship merges a directed edge. Both endpoints are merged by id
// so forward references (e.g. LINKS_TO a not-yet-ingested document) are
// legal and stand as placeholder nodes.
func (r *Repository) CreateRelationship(ctx context.Context, relType, sourceID, targetID string) error {
	endpoints, ok := relEndpoints[relType]
	if !ok {
		return fmt.Errorf("graph: unsupported relationship type %q", relType)
	}
	if strings.TrimSpace(sourceID) == "" || strings.TrimSpace(targetID) == "" {
		return fmt.Errorf("graph: create relationship %s: missing endpoint id", relType)
	}
	cypher := fmt.Sprintf(`
MERGE (a:%s {id: $source_id})
MERGE (b:%s {id: $target_id})
MERGE (a)-[:%s]->(b)
`, endpoints[0], endpoints[1], relType)
	return r.write(ctx, cypher, map[string]any{
		"source_id": sourceID,
		"target_id": targetID,
	})
}

func (r *Repository) GetChunksByIDs(ctx context.Context, ids []string) ([]rag.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := r.read(ctx, `
UNWIND $ids AS id
MATCH (c:Chunk {id: id})
RETURN c.id AS id, c.section_id AS section_id, c.document_id AS document_id,
       c.content AS content, c.order AS ord, c.token_count AS token_count
`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	out := make([]rag.Chunk, 0, len(records))
	for _, rec := range records {
		out = append(out, chunkFromRecord(rec))
	}
	return out, nil
}

func (r *Repository) GetConceptsByChunkIDs(ctx context.Context, chunkIDs []string) ([]rag.Concept, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	records, err := r.read(ctx, `
UNWIND $ids AS id
MATCH (c:Chunk {id: id})-[:MENTIONS]->(k:Concept)
WITH DISTINCT k
RETURN k.id AS id, k.name AS name, k.description AS description,
       k.category AS category, k.aliases AS aliases
ORDER BY k.id
`, map[string]any{"ids": chunkIDs})
	if err != nil {
		return nil, err
	}
	return conceptsFromRecords(records), nil
}

// GetLinkedDocuments returns outgoing LINKS_TO targets that have been
// ingested. Placeholder nodes created by forward references carry no title
// and are excluded.
func (r *Repository) GetLinkedDocuments(ctx context.Context, documentID string) ([]rag.Document, error) {
	records, err := r.read(ctx, `
MATCH (d:Document {id: $id})-[:LINKS_TO]->(t:Document)
WHERE t.title IS NOT NULL
RETURN t.id AS id, t.repository AS repository, t.file_path AS file_path,
       t.title AS title, t.doc_type AS doc_type,
       t.promotion_level AS promotion_level, t.commit_hash AS commit_hash
ORDER BY t.id
`, map[string]any{"id": documentID})
	if err != nil {
		return nil, err
	}
	out := make([]rag.Document, 0, len(records))
	for _, rec := range records {
		out = append(out, rag.Document{
			ID:             stringValue(rec, "id"),
			Repository:     stringValue(rec, "repository"),
			FilePath:       stringValue(rec, "file_path"),
			Title:          stringValue(rec, "title"),
			DocType:        stringValue(rec, "doc_type"),
			PromotionLevel: stringValue(rec, "promotion_level"),
			CommitHash:     stringValue(rec, "commit_hash"),
		})
	}
	return out, nil
}

func (r *Repository) FindConceptsByName(ctx context.Context, name string) ([]rag.Concept, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	records, err := r.read(ctx, `
MATCH (k:Concept)
WHERE toLower(k.name) = toLower($name)
   OR toLower($name) IN [a IN coalesce(k.aliases, []) | toLower(a)]
RETURN k.id AS id, k.name AS name, k.description AS description,
       k.category AS category, k.aliases AS aliases
ORDER BY k.id
`, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return conceptsFromRecords(records), nil
}

// GetRelatedConcepts walks one hop of concept adjacency: concepts mentioned
// by chunks that also mention the given concept. Only depth 1 is supported;
// larger depths are clamped.
func (r *Repository) GetRelatedConcepts(ctx context.Context, conceptID string, depth int) ([]rag.Concept, error) {
	if depth < 1 {
		return nil, nil
	}
	records, err := r.read(ctx, `
MATCH (k:Concept {id: $id})<-[:MENTIONS]-(c:Chunk)-[:MENTIONS]->(o:Concept)
WHERE o.id <> $id
WITH DISTINCT o
RETURN o.id AS id, o.name AS name, o.description AS description,
       o.category AS category, o.aliases AS aliases
ORDER BY o.id
`, map[string]any{"id": conceptID})
	if err != nil {
		return nil, err
	}
	return conceptsFromRecords(records), nil
}

func (r *Repository) GetChunksByConcept(ctx context.Context, conceptID string) ([]rag.Chunk, error) {
	records, err := r.read(ctx, `
MATCH (k:Concept {id: $id})<-[:MENTIONS]-(c:Chunk)
RETURN c.id AS id, c.section_id AS section_id, c.document_id AS document_id,
       c.content AS content, c.order AS ord, c.token_count AS token_count
ORDER BY c.document_id, c.order
`, map[string]any{"id": conceptID})
	if err != nil {
		return nil, err
	}
	out := make([]rag.Chunk, 0, len(records))
	for _, rec := range records {
		out = append(out, chunkFromRecord(rec))
	}
	return out, nil
}

// DeleteDocumentCascade removes the document, its sections, its chunks and
// every edge incident on them. Concepts and code examples survive and may
// be orphaned.
func (r *Repository) DeleteDocumentCascade(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("graph: delete cascade: missing document id")
	}
	return r.write(ctx, `
MATCH (d:Document {id: $id})
OPTIONAL MATCH (d)-[:HAS_SECTION]->(s:Section)
OPTIONAL MATCH (s)-[:HAS_CHUNK]->(c:Chunk)
DETACH DELETE d, s, c
`, map[string]any{"id": documentID})
}

func chunkFromRecord(rec *neo4j.Record) rag.Chunk {
	return rag.Chunk{
		ID:         stringValue(rec, "id"),
		SectionID:  stringValue(rec, "section_id"),
		DocumentID: stringValue(rec, "document_id"),
		Content:    stringValue(rec, "content"),
		Order:      intValue(rec, "ord"),
		TokenCount: intValue(rec, "token_count"),
	}
}

func conceptsFromRecords(records []*neo4j.Record) []rag.Concept {
	out := make([]rag.Concept, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		id := stringValue(rec, "id")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rag.Concept{
			ID:          id,
			Name:        stringValue(rec, "name"),
			Description: stringValue(rec, "description"),
			Category:    stringValue(rec, "category"),
			Aliases:     stringSliceValue(rec, "aliases"),
		})
	}
	return out
}

func stringValue(rec *neo4j.Record, key string) string {
	raw, ok := rec.Get(key)
	if !ok || raw == nil {
		return ""
	}
	s, _ := raw.(string)
	return s
}

func intValue(rec *neo4j.Record, key string) int {
	raw, ok := rec.Get(key)
	if !ok || raw == nil {
		return 0
	}
	switch v := raw.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceValue(rec *neo4j.Record, key string) []string {
	raw, ok := rec.Get(key)
	if !ok || raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
