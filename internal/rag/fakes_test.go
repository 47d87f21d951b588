package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// In-memory doubles for the pipeline ports. They keep just enough state to
// assert graph shape and vector contents after a run.

type memVector struct {
	mu      sync.Mutex
	dims    int
	records map[string]VectorRecord
	failAll bool
	deletes []string
}

func newMemVector(dims int) *memVector {
	return &memVector{dims: dims, records: make(map[string]VectorRecord)}
}

func (m *memVector) Index(_ context.Context, rec VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return fmt.Errorf("index unavailable")
	}
	if len(rec.Vector) != m.dims {
		return fmt.Errorf("dimension mismatch: want=%d got=%d", m.dims, len(rec.Vector))
	}
	m.records[rec.ChunkID] = rec
	return nil
}

func (m *memVector) BatchIndex(ctx context.Context, recs []VectorRecord) error {
	for _, rec := range recs {
		if err := m.Index(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *memVector) Search(_ context.Context, vector []float32, topK int, filters map[string]string) ([]SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, fmt.Errorf("search unavailable")
	}
	if len(vector) != m.dims {
		return nil, fmt.Errorf("dimension mismatch: want=%d got=%d", m.dims, len(vector))
	}
	var hits []SearchHit
	for _, rec := range m.records {
		match := true
		for k, v := range filters {
			if rec.Metadata[k] != v {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		hits = append(hits, SearchHit{
			ChunkID:  rec.ChunkID,
			Score:    cosine(vector, rec.Vector),
			Metadata: rec.Metadata,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *memVector) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, documentID)
	for id, rec := range m.records {
		if rec.Metadata["document_id"] == documentID {
			delete(m.records, id)
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type edge struct {
	relType  string
	sourceID string
	targetID string
}

type memGraph struct {
	mu           sync.Mutex
	documents    map[string]Document
	sections     map[string]Section
	chunks       map[string]Chunk
	concepts     map[string]Concept
	examples     map[string]CodeExample
	edges        []edge
	failSections bool
	failDocument bool
	failConcepts bool
	failHydrate  bool
	linkedCalls  []string
}

func newMemGraph() *memGraph {
	return &memGraph{
		documents: make(map[string]Document),
		sections:  make(map[string]Section),
		chunks:    make(map[string]Chunk),
		concepts:  make(map[string]Concept),
		examples:  make(map[string]CodeExample),
	}
}

func (g *memGraph) UpsertDocument(_ context.Context, doc Document) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failDocument {
		return fmt.Errorf("graph unavailable")
	}
	g.documents[doc.ID] = doc
	return nil
}

func (g *memGraph) UpsertSection(_ context.Context, sec Section) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSections {
		return fmt.Errorf("graph unavailable")
	}
	g.sections[sec.ID] = sec
	g.addEdge(RelHasSection, sec.DocumentID, sec.ID)
	return nil
}

func (g *memGraph) UpsertChunk(_ context.Context, chunk Chunk) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunks[chunk.ID] = chunk
	g.addEdge(RelHasChunk, chunk.SectionID, chunk.ID)
	return nil
}

func (g *memGraph) UpsertConcept(_ context.Context, concept Concept) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.concepts[concept.ID] = concept
	return nil
}

func (g *memGraph) UpsertCodeExample(_ context.Context, example CodeExample) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.examples[example.ID] = example
	g.addEdge(RelHasCodeExample, example.ChunkID, example.ID)
	return nil
}

func (g *memGraph) CreateRelationship(_ context.Context, relType, sourceID, targetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdge(relType, sourceID, targetID)
	return nil
}

func (g *memGraph) addEdge(relType, sourceID, targetID string) {
	for _, e := range g.edges {
		if e.relType == relType && e.sourceID == sourceID && e.targetID == targetID {
			return
		}
	}
	g.edges = append(g.edges, edge{relType, sourceID, targetID})
}

func (g *memGraph) hasEdge(relType, sourceID, targetID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.edges {
		if e.relType == relType && e.sourceID == sourceID && e.targetID == targetID {
			return true
		}
	}
	return false
}

func (g *memGraph) GetChunksByIDs(_ context.Context, ids []string) ([]Chunk, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failHydrate {
		return nil, fmt.Errorf("graph unavailable")
	}
	var out []Chunk
	for _, id := range ids {
		if c, ok := g.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (g *memGraph) GetConceptsByChunkIDs(_ context.Context, chunkIDs []string) ([]Concept, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failConcepts {
		return nil, fmt.Errorf("graph unavailable")
	}
	seen := make(map[string]struct{})
	var out []Concept
	for _, chunkID := range chunkIDs {
		for _, e := range g.edges {
			if e.relType != RelMentions || e.sourceID != chunkID {
				continue
			}
			if _, dup := seen[e.targetID]; dup {
				continue
			}
			seen[e.targetID] = struct{}{}
			out = append(out, g.concepts[e.targetID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGraph) GetLinkedDocuments(_ context.Context, documentID string) ([]Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.linkedCalls = append(g.linkedCalls, documentID)
	var out []Document
	for _, e := range g.edges {
		if e.relType != RelLinksTo || e.sourceID != documentID {
			continue
		}
		if doc, ok := g.documents[e.targetID]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (g *memGraph) FindConceptsByName(_ context.Context, name string) ([]Concept, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Concept
	for _, c := range g.concepts {
		if strings.EqualFold(c.Name, name) {
			out = append(out, c)
			continue
		}
		for _, alias := range c.Aliases {
			if strings.EqualFold(alias, name) {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGraph) GetRelatedConcepts(_ context.Context, conceptID string, _ int) ([]Concept, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := map[string]struct{}{conceptID: {}}
	var out []Concept
	for _, e := range g.edges {
		if e.relType != RelMentions || e.targetID != conceptID {
			continue
		}
		for _, e2 := range g.edges {
			if e2.relType != RelMentions || e2.sourceID != e.sourceID {
				continue
			}
			if _, dup := seen[e2.targetID]; dup {
				continue
			}
			seen[e2.targetID] = struct{}{}
			out = append(out, g.concepts[e2.targetID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGraph) GetChunksByConcept(_ context.Context, conceptID string) ([]Chunk, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Chunk
	for _, e := range g.edges {
		if e.relType == RelMentions && e.targetID == conceptID {
			if c, ok := g.chunks[e.sourceID]; ok {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGraph) DeleteDocumentCascade(_ context.Context, documentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.documents, documentID)
	removed := map[string]struct{}{documentID: {}}
	for id, sec := range g.sections {
		if sec.DocumentID == documentID {
			delete(g.sections, id)
			removed[id] = struct{}{}
		}
	}
	for id, c := range g.chunks {
		if c.DocumentID == documentID {
			delete(g.chunks, id)
			removed[id] = struct{}{}
		}
	}
	kept := g.edges[:0]
	for _, e := range g.edges {
		if _, gone := removed[e.sourceID]; gone {
			continue
		}
		if _, gone := removed[e.targetID]; gone {
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept
	return nil
}

type fakeEmbedder struct {
	dims     int
	failText string
	failAll  bool
	calls    int
}

// Embed produces a deterministic unit-ish vector seeded by content length so
// identical texts collide and different texts rank differently.
func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failAll || (f.failText != "" && strings.Contains(text, f.failText)) {
		return nil, fmt.Errorf("embedding unavailable")
	}
	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32((len(text)+i)%7) + 1
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeChat struct {
	response string
	err      error
	lastSys  string
	lastUser string
}

func (f *fakeChat) GenerateText(_ context.Context, _ ModelTier, system, user string) (string, error) {
	f.lastSys = system
	f.lastUser = user
	return f.response, f.err
}

type fakeExtractor struct {
	entities map[string][]Entity // keyed by substring of chunk text
	err      error
}

func (f *fakeExtractor) Extract(_ context.Context, chunkText string) ([]Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	for key, ents := range f.entities {
		if strings.Contains(chunkText, key) {
			return ents, nil
		}
	}
	return nil, nil
}

type fakeResolver struct {
	entities map[string]*ResolvedEntity
	err      error
	calls    []string
	mu       sync.Mutex
}

func (f *fakeResolver) Resolve(_ context.Context, conceptName string) (*ResolvedEntity, error) {
	f.mu.Lock()
	f.calls = append(f.calls, conceptName)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.entities[conceptName], nil
}
