package rag

import "context"

// The pipelines depend on these narrow ports only. Adapters live under
// internal/platform, internal/data and internal/services.

// VectorIndex is the ANN index over chunk embeddings. Implementations must
// reject vectors whose length differs from the configured dimension.
type VectorIndex interface {
	Index(ctx context.Context, rec VectorRecord) error
	BatchIndex(ctx context.Context, recs []VectorRecord) error
	// Search returns hits sorted by score descending. Filters are metadata
	// equality predicates ANDed together.
	Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]SearchHit, error)
	// DeleteByDocument removes every record whose metadata document_id matches.
	DeleteByDocument(ctx context.Context, documentID string) error
}

// GraphRepository is the property-graph store. All upserts are idempotent;
// UpsertSection, UpsertChunk and UpsertCodeExample also create the owning
// edge (HAS_SECTION, HAS_CHUNK, HAS_CODE_EXAMPLE).
type GraphRepository interface {
	UpsertDocument(ctx context.Context, doc Document) error
	UpsertSection(ctx context.Context, sec Section) error
	UpsertChunk(ctx context.Context, chunk Chunk) error
	UpsertConcept(ctx context.Context, concept Concept) error
	UpsertCodeExample(ctx context.Context, example CodeExample) error
	CreateRelationship(ctx context.Context, relType, sourceID, targetID string) error

	// GetChunksByIDs returns only chunks that exist, in caller-supplied order.
	GetChunksByIDs(ctx context.Context, ids []string) ([]Chunk, error)
	GetConceptsByChunkIDs(ctx context.Context, chunkIDs []string) ([]Concept, error)
	GetLinkedDocuments(ctx context.Context, documentID string) ([]Document, error)
	// FindConceptsByName matches name and aliases case-insensitively, ordered
	// by concept id so callers picking "the first" are deterministic.
	FindConceptsByName(ctx context.Context, name string) ([]Concept, error)
	GetRelatedConcepts(ctx context.Context, conceptID string, depth int) ([]Concept, error)
	GetChunksByConcept(ctx context.Context, conceptID string) ([]Chunk, error)

	DeleteDocumentCascade(ctx context.Context, documentID string) error
}

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// ChatModel is the generative endpoint used for synthesis and extraction.
type ChatModel interface {
	GenerateText(ctx context.Context, tier ModelTier, system, user string) (string, error)
}

// EntityExtractor pulls structured entities out of a chunk. A failed LLM
// call returns an error; a malformed response returns an empty list.
type EntityExtractor interface {
	Extract(ctx context.Context, chunkText string) ([]Entity, error)
}

// EntityResolver finds a concept by name in any repository and returns its
// neighborhood. A nil result with nil error means no match.
type EntityResolver interface {
	Resolve(ctx context.Context, conceptName string) (*ResolvedEntity, error)
}
