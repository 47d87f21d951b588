// Package crossrepo resolves a concept name to its best match anywhere in
// the corpus, together with the neighborhood needed to enrich query results
// across repository boundaries.
package crossrepo

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docfold/docgraph-backend/internal/platform/logger"
	"github.com/docfold/docgraph-backend/internal/rag"
)

type Resolver struct {
	log   *logger.Logger
	graph rag.GraphRepository
}

var _ rag.EntityResolver = (*Resolver)(nil)

func NewResolver(log *logger.Logger, graph rag.GraphRepository) (*Resolver, error) {
	if log == nil {
		return nil, fmt.Errorf("crossrepo: logger required")
	}
	if graph == nil {
		return nil, fmt.Errorf("crossrepo: graph repository required")
	}
	return &Resolver{
		log:   log.With("service", "CrossRepoResolver"),
		graph: graph,
	}, nil
}

// Resolve finds the first concept matching conceptName (the graph repository
// orders matches by concept id) and fetches its related concepts and backing
// chunks in parallel. Returns nil when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, conceptName string) (*rag.ResolvedEntity, error) {
	conceptName = strings.TrimSpace(conceptName)
	if conceptName == "" {
		return nil, nil
	}

	concepts, err := r.graph.FindConceptsByName(ctx, conceptName)
	if err != nil {
		return nil, fmt.Errorf("crossrepo: find concepts by name %q: %w", conceptName, err)
	}
	if len(concepts) == 0 {
		return nil, nil
	}
	concept := concepts[0]

	var (
		related []rag.Concept
		chunks  []rag.Chunk
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		related, err = r.graph.GetRelatedConcepts(gctx, concept.ID, 1)
		return err
	})
	g.Go(func() error {
		var err error
		chunks, err = r.graph.GetChunksByConcept(gctx, concept.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("crossrepo: expand concept %q: %w", concept.ID, err)
	}

	repository := ""
	if len(chunks) > 0 {
		repository = rag.RepositoryOf(chunks[0].DocumentID)
	}

	relatedIDs := make([]string, 0, len(related))
	relatedNames := make([]string, 0, len(related))
	for _, c := range related {
		relatedIDs = append(relatedIDs, c.ID)
		relatedNames = append(relatedNames, c.Name)
	}

	return &rag.ResolvedEntity{
		ConceptID:           concept.ID,
		Name:                concept.Name,
		Repository:          repository,
		RelatedConceptIDs:   relatedIDs,
		RelatedConceptNames: relatedNames,
	}, nil
}
