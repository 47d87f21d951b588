package rag

import "strings"

// Node and edge records for the property graph. All ids are strings owned by
// the ingestion pipeline; adapters never invent ids.

type Document struct {
	ID             string `json:"id"`
	Repository     string `json:"repository"`
	FilePath       string `json:"file_path"`
	Title          string `json:"title"`
	DocType        string `json:"doc_type,omitempty"`
	PromotionLevel string `json:"promotion_level"`
	CommitHash     string `json:"commit_hash,omitempty"`
}

type Section struct {
	ID           string `json:"id"`
	DocumentID   string `json:"document_id"`
	Title        string `json:"title"`
	Order        int    `json:"order"`
	HeadingLevel int    `json:"heading_level"`
}

type Chunk struct {
	ID         string `json:"id"`
	SectionID  string `json:"section_id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	Order      int    `json:"order"`
	TokenCount int    `json:"token_count"`
}

type Concept struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Aliases     []string `json:"aliases,omitempty"`
}

type CodeExample struct {
	ID       string `json:"id"`
	ChunkID  string `json:"chunk_id"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Edge types of the document graph.
const (
	RelHasSection     = "HAS_SECTION"
	RelHasChunk       = "HAS_CHUNK"
	RelMentions       = "MENTIONS"
	RelHasCodeExample = "HAS_CODE_EXAMPLE"
	RelLinksTo        = "LINKS_TO"
)

// Entity is one structured extraction result from a chunk.
type Entity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// ResolvedEntity is a concept matched in another repository, together with
// its neighborhood in that repository's graph.
type ResolvedEntity struct {
	ConceptID           string   `json:"concept_id"`
	Name                string   `json:"name"`
	Repository          string   `json:"repository"`
	RelatedConceptIDs   []string `json:"related_concept_ids"`
	RelatedConceptNames []string `json:"related_concept_names"`
}

// VectorRecord is one row of the vector index.
type VectorRecord struct {
	ChunkID  string
	Vector   []float32
	Metadata map[string]string
}

// SearchHit is one ANN result, score descending, higher is better.
type SearchHit struct {
	ChunkID  string
	Score    float64
	Metadata map[string]string
}

// DocumentMeta is the caller-supplied ingestion metadata.
type DocumentMeta struct {
	DocumentID     string `json:"document_id"`
	Repository     string `json:"repository"`
	FilePath       string `json:"file_path"`
	Title          string `json:"title"`
	DocType        string `json:"doc_type,omitempty"`
	PromotionLevel string `json:"promotion_level,omitempty"`
	CommitHash     string `json:"commit_hash,omitempty"`
}

func (m *DocumentMeta) normalize() {
	m.DocumentID = strings.TrimSpace(m.DocumentID)
	m.Repository = strings.TrimSpace(m.Repository)
	m.FilePath = strings.TrimSpace(m.FilePath)
	if strings.TrimSpace(m.PromotionLevel) == "" {
		m.PromotionLevel = "draft"
	}
}

// Options tunes a single query. Zero values fall back to defaults; the
// engine clamps MaxChunks to [1,100] and MinRelevanceScore to [0,1].
type Options struct {
	MaxChunks         int     `json:"max_chunks"`
	MaxTraversalSteps int     `json:"max_traversal_steps"`
	MinRelevanceScore float64 `json:"min_relevance_score"`
	UseCrossRepoLinks bool    `json:"use_cross_repo_links"`
	RepositoryFilter  string  `json:"repository_filter,omitempty"`
	DocTypeFilter     string  `json:"doc_type_filter,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		MaxChunks:         10,
		MaxTraversalSteps: 1,
		MinRelevanceScore: 0.7,
		UseCrossRepoLinks: true,
	}
}

// Source points at one retrieved chunk backing the answer.
type Source struct {
	DocumentID     string  `json:"document_id"`
	ChunkID        string  `json:"chunk_id"`
	Repository     string  `json:"repository"`
	FilePath       string  `json:"file_path"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Result is the synthesized answer with its provenance.
type Result struct {
	Answer          string   `json:"answer"`
	Sources         []Source `json:"sources"`
	RelatedConcepts []string `json:"related_concepts"`
	Confidence      float64  `json:"confidence"`
}

// ModelTier selects which generative model a call runs on.
type ModelTier string

const (
	TierSmall ModelTier = "small"
	TierMid   ModelTier = "mid"
	TierLarge ModelTier = "large"
)

// RepositoryOf extracts the repository prefix of a document id, which is
// everything up to the first ":". Empty when the id carries no prefix.
func RepositoryOf(documentID string) string {
	idx := strings.Index(documentID, ":")
	if idx <= 0 {
		return ""
	}
	return documentID[:idx]
}
