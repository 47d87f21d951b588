package rag

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docfold/docgraph-backend/internal/platform/ctxutil"
	"github.com/docfold/docgraph-backend/internal/platform/logger"
)

const noResultsAnswer = "No relevant documents found for your query."

const synthesisSystemPrompt = `You answer questions about developer documentation.
Ground every statement in the provided context. If the context does not contain
the answer, say so instead of guessing. Prefer citing specific sources and code
examples. Be concise.`

// crossRepoConcurrency bounds the per-query fan-out of enrichment reads.
const crossRepoConcurrency = 8

// EngineDeps wires the query pipeline.
type EngineDeps struct {
	Log      *logger.Logger
	Vector   VectorIndex
	Graph    GraphRepository
	Embedder Embedder
	Chat     ChatModel
	Resolver EntityResolver
}

// Engine executes queries: embed, search, hydrate, enrich, synthesize.
// Embedding, search, hydration and synthesis failures are returned to the
// caller; every enrichment step degrades to a smaller answer instead.
type Engine struct {
	log      *logger.Logger
	vector   VectorIndex
	graph    GraphRepository
	embedder Embedder
	chat     ChatModel
	resolver EntityResolver
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("engine: logger required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("engine: vector index required")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("engine: graph repository required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("engine: embedder required")
	}
	if deps.Chat == nil {
		return nil, fmt.Errorf("engine: chat model required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("engine: entity resolver required")
	}
	return &Engine{
		log:      deps.Log.With("service", "QueryEngine"),
		vector:   deps.Vector,
		graph:    deps.Graph,
		embedder: deps.Embedder,
		chat:     deps.Chat,
		resolver: deps.Resolver,
	}, nil
}

func (e *Engine) Query(ctx context.Context, query string, opts Options) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query: empty query")
	}
	opts = clampOptions(opts)

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: embed: %w", err)
	}

	filters := map[string]string{}
	if opts.RepositoryFilter != "" {
		filters["repository"] = opts.RepositoryFilter
	}
	if opts.DocTypeFilter != "" {
		filters["doc_type"] = opts.DocTypeFilter
	}
	hits, err := e.vector.Search(ctx, vector, opts.MaxChunks, filters)
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}

	filtered := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Score >= opts.MinRelevanceScore {
			filtered = append(filtered, hit)
		}
	}
	if len(filtered) == 0 {
		return &Result{
			Answer:          noResultsAnswer,
			Sources:         []Source{},
			RelatedConcepts: []string{},
			Confidence:      0,
		}, nil
	}

	chunkIDs := make([]string, 0, len(filtered))
	for _, hit := range filtered {
		chunkIDs = append(chunkIDs, hit.ChunkID)
	}
	chunks, err := e.graph.GetChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("query: hydrate chunks: %w", err)
	}

	relatedConcepts := e.enrichConcepts(ctx, chunkIDs)
	if opts.UseCrossRepoLinks {
		relatedConcepts = e.expandCrossRepo(ctx, filtered, relatedConcepts)
	}

	userPrompt := buildUserPrompt(query, filtered, chunks)
	answer, err := e.chat.GenerateText(ctx, TierMid, synthesisSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("query: synthesize: %w", err)
	}

	return &Result{
		Answer:          answer,
		Sources:         buildSources(filtered),
		RelatedConcepts: relatedConcepts,
		Confidence:      confidence(filtered, opts.MaxChunks),
	}, nil
}

// clampOptions overlays defaults on zero values and bounds the rest.
// MaxTraversalSteps is reserved and pinned to 1.
func clampOptions(opts Options) Options {
	if opts.MaxChunks == 0 {
		opts.MaxChunks = DefaultOptions().MaxChunks
	}
	if opts.MaxChunks < 1 {
		opts.MaxChunks = 1
	}
	if opts.MaxChunks > 100 {
		opts.MaxChunks = 100
	}
	if opts.MinRelevanceScore < 0 {
		opts.MinRelevanceScore = 0
	}
	if opts.MinRelevanceScore > 1 {
		opts.MinRelevanceScore = 1
	}
	opts.MaxTraversalSteps = 1
	return opts
}

func (e *Engine) enrichConcepts(ctx context.Context, chunkIDs []string) []string {
	concepts, err := e.graph.GetConceptsByChunkIDs(ctx, chunkIDs)
	if err != nil {
		e.log.Warn("concept enrichment failed", "error", err)
		return []string{}
	}
	names := make([]string, 0, len(concepts))
	for _, c := range concepts {
		names = append(names, c.Name)
	}
	return names
}

// expandCrossRepo resolves each concept name across the corpus and appends
// the related-concept names of matches that live in repositories absent from
// the search results. Every failure is warned and swallowed; resolution runs
// in parallel but the merge is sequential so output order is stable.
func (e *Engine) expandCrossRepo(ctx context.Context, filtered []SearchHit, relatedConcepts []string) []string {
	repos := make(map[string]struct{})
	docIDs := make([]string, 0, len(filtered))
	seenDocs := make(map[string]struct{})
	for _, hit := range filtered {
		if repo := hit.Metadata["repository"]; repo != "" {
			repos[repo] = struct{}{}
		}
		docID := hit.Metadata["document_id"]
		if docID == "" {
			continue
		}
		if _, dup := seenDocs[docID]; dup {
			continue
		}
		seenDocs[docID] = struct{}{}
		docIDs = append(docIDs, docID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(crossRepoConcurrency)

	// Traversal warm-up per document; results are not surfaced.
	for _, docID := range docIDs {
		g.Go(func() error {
			linked, err := e.graph.GetLinkedDocuments(gctx, docID)
			if err != nil {
				e.log.Warn("linked-document traversal failed", "document_id", docID, "error", err)
				return nil
			}
			e.log.Debug("linked documents", "document_id", docID, "count", len(linked))
			return nil
		})
	}

	snapshot := make([]string, len(relatedConcepts))
	copy(snapshot, relatedConcepts)
	resolved := make([]*ResolvedEntity, len(snapshot))
	for i, name := range snapshot {
		g.Go(func() error {
			entity, err := e.resolver.Resolve(gctx, name)
			if err != nil {
				e.log.Warn("cross-repo resolve failed", "concept", name, "error", err)
				return nil
			}
			resolved[i] = entity
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{}, len(relatedConcepts))
	for _, name := range relatedConcepts {
		seen[name] = struct{}{}
	}
	for _, entity := range resolved {
		if entity == nil || entity.Repository == "" {
			continue
		}
		if _, present := repos[entity.Repository]; present {
			continue
		}
		for _, name := range entity.RelatedConceptNames {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			relatedConcepts = append(relatedConcepts, name)
		}
	}
	return relatedConcepts
}

// buildUserPrompt renders the query plus a context block. Chunks that did
// not hydrate are omitted.
func buildUserPrompt(query string, filtered []SearchHit, chunks []Chunk) string {
	byID := make(map[string]SearchHit, len(filtered))
	for _, hit := range filtered {
		byID[hit.ChunkID] = hit
	}

	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n\n## Context\n\n")
	for _, chunk := range chunks {
		hit, ok := byID[chunk.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "### Source: %s (relevance: %.2f)\n\n%s\n\n",
			hit.Metadata["file_path"], hit.Score, chunk.Content)
	}
	return b.String()
}

func buildSources(filtered []SearchHit) []Source {
	out := make([]Source, 0, len(filtered))
	for _, hit := range filtered {
		docID := hit.Metadata["document_id"]
		if docID == "" {
			docID = hit.ChunkID
		}
		out = append(out, Source{
			DocumentID:     docID,
			ChunkID:        hit.ChunkID,
			Repository:     hit.Metadata["repository"],
			FilePath:       hit.Metadata["file_path"],
			RelevanceScore: hit.Score,
		})
	}
	return out
}

// confidence is the mean relevance score damped by how full the result set
// is relative to the requested MaxChunks.
func confidence(filtered []SearchHit, maxChunks int) float64 {
	if len(filtered) == 0 || maxChunks <= 0 {
		return 0
	}
	sum := 0.0
	for _, hit := range filtered {
		sum += hit.Score
	}
	avg := sum / float64(len(filtered))
	fill := float64(len(filtered)) / float64(maxChunks)
	if fill > 1 {
		fill = 1
	}
	return avg * fill
}
