package rag

import (
	"context"
	"testing"

	"github.com/docfold/docgraph-backend/internal/platform/logger"
)

func newTestIngestor(t *testing.T, graph *memGraph, vector *memVector, embedder *fakeEmbedder, extractor *fakeExtractor) *Ingestor {
	t.Helper()
	ing, err := NewIngestor(IngestorDeps{
		Log:       logger.NewNop(),
		Graph:     graph,
		Vector:    vector,
		Embedder:  embedder,
		Extractor: extractor,
	})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	return ing
}

func metaFor(docID, repo, path, title string) DocumentMeta {
	return DocumentMeta{DocumentID: docID, Repository: repo, FilePath: path, Title: title}
}

func TestIngestSingleChunkDocument(t *testing.T) {
	graph := newMemGraph()
	vector := newMemVector(4)
	ing := newTestIngestor(t, graph, vector, &fakeEmbedder{dims: 4}, &fakeExtractor{})

	err := ing.Ingest(context.Background(), "hello world", metaFor("r:a.md", "r", "a.md", "T"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(graph.documents) != 1 || graph.documents["r:a.md"].Title != "T" {
		t.Fatalf("documents: got=%v", graph.documents)
	}
	if graph.documents["r:a.md"].PromotionLevel != "draft" {
		t.Fatalf("promotion level: want=draft got=%q", graph.documents["r:a.md"].PromotionLevel)
	}

	if len(graph.sections) != 1 {
		t.Fatalf("sections: want=1 got=%d", len(graph.sections))
	}
	intro, ok := graph.sections["r:a.md:introduction"]
	if !ok || intro.Title != "Introduction" || intro.Order != 0 || intro.HeadingLevel != 2 {
		t.Fatalf("introduction section: got=%+v", intro)
	}

	chunk, ok := graph.chunks["r:a.md:chunk-0"]
	if !ok {
		t.Fatalf("chunk r:a.md:chunk-0 missing")
	}
	if chunk.SectionID != intro.ID || chunk.TokenCount != 2 {
		t.Fatalf("chunk: got=%+v", chunk)
	}

	if len(vector.records) != 1 {
		t.Fatalf("vector records: want=1 got=%d", len(vector.records))
	}
	rec := vector.records["r:a.md:chunk-0"]
	if rec.Metadata["document_id"] != "r:a.md" || rec.Metadata["section_id"] != intro.ID ||
		rec.Metadata["file_path"] != "a.md" || rec.Metadata["repository"] != "r" {
		t.Fatalf("vector metadata: got=%v", rec.Metadata)
	}

	if len(graph.concepts) != 0 || len(graph.examples) != 0 {
		t.Fatalf("want no concepts or examples, got=%d/%d", len(graph.concepts), len(graph.examples))
	}
	if !graph.hasEdge(RelHasSection, "r:a.md", intro.ID) || !graph.hasEdge(RelHasChunk, intro.ID, chunk.ID) {
		t.Fatalf("ownership edges missing: %v", graph.edges)
	}
}

func TestIngestHeaderChunking(t *testing.T) {
	graph := newMemGraph()
	vector := newMemVector(4)
	ing := newTestIngestor(t, graph, vector, &fakeEmbedder{dims: 4}, &fakeExtractor{})

	body := "intro\n## A\nalpha\n## B\nbeta"
	if err := ing.Ingest(context.Background(), body, metaFor("r:d.md", "r", "d.md", "D")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(graph.sections) != 3 {
		t.Fatalf("sections: want=3 got=%d", len(graph.sections))
	}
	wantOrder := map[string]int{
		"r:d.md:introduction": 0,
		"r:d.md:a":            1,
		"r:d.md:b":            2,
	}
	for id, order := range wantOrder {
		sec, ok := graph.sections[id]
		if !ok || sec.Order != order {
			t.Fatalf("section %s: want order=%d got=%+v", id, order, sec)
		}
	}

	if len(graph.chunks) != 3 {
		t.Fatalf("chunks: want=3 got=%d", len(graph.chunks))
	}
	wantSection := map[string]string{
		"r:d.md:chunk-0": "r:d.md:introduction",
		"r:d.md:chunk-1": "r:d.md:a",
		"r:d.md:chunk-2": "r:d.md:b",
	}
	for id, sectionID := range wantSection {
		if graph.chunks[id].SectionID != sectionID {
			t.Fatalf("chunk %s: want section=%s got=%s", id, sectionID, graph.chunks[id].SectionID)
		}
	}
}

func TestIngestH2AtTopNoIntroSection(t *testing.T) {
	graph := newMemGraph()
	ing := newTestIngestor(t, graph, newMemVector(4), &fakeEmbedder{dims: 4}, &fakeExtractor{})

	if err := ing.Ingest(context.Background(), "## Only\nbody", metaFor("r:x.md", "r", "x.md", "X")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(graph.sections) != 1 {
		t.Fatalf("sections: want=1 got=%d", len(graph.sections))
	}
	sec := graph.sections["r:x.md:only"]
	if sec.Order != 0 || sec.Title != "Only" {
		t.Fatalf("section: got=%+v", sec)
	}
}

func TestIngestEmptyBodyWritesNothing(t *testing.T) {
	graph := newMemGraph()
	vector := newMemVector(4)
	ing := newTestIngestor(t, graph, vector, &fakeEmbedder{dims: 4}, &fakeExtractor{})

	if err := ing.Ingest(context.Background(), "   \n  ", metaFor("r:e.md", "r", "e.md", "E")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(graph.documents) != 0 || len(graph.chunks) != 0 || len(vector.records) != 0 {
		t.Fatalf("want nothing written, got docs=%d chunks=%d vectors=%d",
			len(graph.documents), len(graph.chunks), len(vector.records))
	}
}

func TestIngestEntitiesAndCodeExamples(t *testing.T) {
	graph := newMemGraph()
	extractor := &fakeExtractor{entities: map[string][]Entity{
		"Neo4j": {{Name: "Neo4j", Type: "tool", Description: "graph db", Aliases: []string{"neo"}}},
	}}
	ing := newTestIngestor(t, graph, newMemVector(4), &fakeEmbedder{dims: 4}, extractor)

	body := "Neo4j stores graphs.\n```go\nfunc main() {}\n```"
	if err := ing.Ingest(context.Background(), body, metaFor("r:n.md", "r", "n.md", "N")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	concept, ok := graph.concepts["concept:neo4j"]
	if !ok || concept.Name != "Neo4j" || concept.Category != "tool" {
		t.Fatalf("concept: got=%+v", concept)
	}
	if !graph.hasEdge(RelMentions, "r:n.md:chunk-0", "concept:neo4j") {
		t.Fatalf("MENTIONS edge missing: %v", graph.edges)
	}

	example, ok := graph.examples["r:n.md:chunk-0:code-0"]
	if !ok || example.Language != "go" || example.Code != "func main() {}" {
		t.Fatalf("code example: got=%+v", example)
	}
	if !graph.hasEdge(RelHasCodeExample, "r:n.md:chunk-0", example.ID) {
		t.Fatalf("HAS_CODE_EXAMPLE edge missing")
	}
}

func TestIngestLinksCreateForwardReferences(t *testing.T) {
	graph := newMemGraph()
	ing := newTestIngestor(t, graph, newMemVector(4), &fakeEmbedder{dims: 4}, &fakeExtractor{})

	body := "See [b](../b.md#frag) and [ext](https://example.com) and [self](a.md)."
	if err := ing.Ingest(context.Background(), body, metaFor("r:docs/sub/a.md", "R", "docs/sub/a.md", "A")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !graph.hasEdge(RelLinksTo, "r:docs/sub/a.md", "r:docs/b.md") {
		t.Fatalf("LINKS_TO edge missing: %v", graph.edges)
	}
	for _, e := range graph.edges {
		if e.relType == RelLinksTo && e.targetID != "r:docs/b.md" {
			t.Fatalf("unexpected LINKS_TO target: %+v", e)
		}
	}
}

func TestIngestEmbedFailureIsBestEffort(t *testing.T) {
	graph := newMemGraph()
	vector := newMemVector(4)
	extractor := &fakeExtractor{entities: map[string][]Entity{
		"alpha": {{Name: "Alpha", Type: "concept"}},
	}}
	ing := newTestIngestor(t, graph, vector, &fakeEmbedder{dims: 4, failText: "alpha"}, extractor)

	body := "intro\n## A\nalpha\n## B\nbeta"
	if err := ing.Ingest(context.Background(), body, metaFor("r:p.md", "r", "p.md", "P")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(graph.chunks) != 3 {
		t.Fatalf("chunks: want=3 got=%d", len(graph.chunks))
	}
	if len(vector.records) != 2 {
		t.Fatalf("vector records: want=2 got=%d", len(vector.records))
	}
	if _, indexed := vector.records["r:p.md:chunk-1"]; indexed {
		t.Fatalf("failed chunk must not be indexed")
	}
	// Entity extraction still ran for the chunk whose embedding failed.
	if _, ok := graph.concepts["concept:alpha"]; !ok {
		t.Fatalf("concept missing after embed failure: %v", graph.concepts)
	}
}

func TestIngestDocumentFailureIsFatal(t *testing.T) {
	graph := newMemGraph()
	graph.failDocument = true
	vector := newMemVector(4)
	ing := newTestIngestor(t, graph, vector, &fakeEmbedder{dims: 4}, &fakeExtractor{})

	err := ing.Ingest(context.Background(), "hello", metaFor("r:f.md", "r", "f.md", "F"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(graph.chunks) != 0 || len(vector.records) != 0 {
		t.Fatalf("no writes may follow a failed document upsert")
	}
}

func TestIngestSectionFailureAborts(t *testing.T) {
	graph := newMemGraph()
	graph.failSections = true
	ing := newTestIngestor(t, graph, newMemVector(4), &fakeEmbedder{dims: 4}, &fakeExtractor{})

	if err := ing.Ingest(context.Background(), "hello", metaFor("r:g.md", "r", "g.md", "G")); err == nil {
		t.Fatalf("expected error")
	}
	if len(graph.chunks) != 0 {
		t.Fatalf("no chunks may follow a failed section upsert")
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	graph := newMemGraph()
	vector := newMemVector(4)
	ing := newTestIngestor(t, graph, vector, &fakeEmbedder{dims: 4}, &fakeExtractor{})

	body := "intro\n## A\nalpha"
	meta := metaFor("r:i.md", "r", "i.md", "I")
	for i := 0; i < 2; i++ {
		if err := ing.Ingest(context.Background(), body, meta); err != nil {
			t.Fatalf("Ingest #%d: %v", i, err)
		}
	}
	if len(graph.sections) != 2 || len(graph.chunks) != 2 || len(vector.records) != 2 {
		t.Fatalf("re-ingest changed counts: sections=%d chunks=%d vectors=%d",
			len(graph.sections), len(graph.chunks), len(vector.records))
	}
}

func TestDeleteCascades(t *testing.T) {
	graph := newMemGraph()
	vector := newMemVector(4)
	ing := newTestIngestor(t, graph, vector, &fakeEmbedder{dims: 4}, &fakeExtractor{})

	body := "intro\n## A\nalpha"
	if err := ing.Ingest(context.Background(), body, metaFor("r:z.md", "r", "z.md", "Z")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := ing.Delete(context.Background(), "r:z.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(vector.records) != 0 {
		t.Fatalf("vector records survive delete: %v", vector.records)
	}
	if len(graph.documents) != 0 || len(graph.sections) != 0 || len(graph.chunks) != 0 {
		t.Fatalf("graph nodes survive delete: docs=%d sections=%d chunks=%d",
			len(graph.documents), len(graph.sections), len(graph.chunks))
	}
	if len(vector.deletes) != 1 || vector.deletes[0] != "r:z.md" {
		t.Fatalf("vector delete calls: %v", vector.deletes)
	}
}
