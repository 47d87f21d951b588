// Package entities extracts structured entities from chunks by prompting
// the generative model and parsing its JSON tolerantly.
package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docfold/docgraph-backend/internal/platform/logger"
	"github.com/docfold/docgraph-backend/internal/rag"
)

const systemPrompt = `You extract technical entities from developer documentation.
Return ONLY a JSON array. Each element must be an object with exactly these fields:
"name" (string), "type" (string), "description" (string), "aliases" (array of strings).
Entity types: technology, framework, library, concept, pattern, tool, language.
If there are no entities, return [].`

type Extractor struct {
	log  *logger.Logger
	chat rag.ChatModel
	tier rag.ModelTier
}

var _ rag.EntityExtractor = (*Extractor)(nil)

func NewExtractor(log *logger.Logger, chat rag.ChatModel) (*Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("entities: logger required")
	}
	if chat == nil {
		return nil, fmt.Errorf("entities: chat model required")
	}
	return &Extractor{
		log:  log.With("service", "EntityExtractor"),
		chat: chat,
		tier: rag.TierSmall,
	}, nil
}

// Extract returns the entities mentioned in chunkText. A failed model call
// returns an error; a malformed or null response returns an empty list.
func (e *Extractor) Extract(ctx context.Context, chunkText string) ([]rag.Entity, error) {
	if strings.TrimSpace(chunkText) == "" {
		return nil, nil
	}

	response, err := e.chat.GenerateText(ctx, e.tier, systemPrompt, chunkText)
	if err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}
	return ParseEntities(e.log, response), nil
}

// ParseEntities decodes the model response. It strips code fences, tolerates
// leading prose before the array, and treats anything unparseable (including
// the literal "null") as no entities.
func ParseEntities(log *logger.Logger, response string) []rag.Entity {
	raw := strings.TrimSpace(response)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if raw == "" || raw == "null" {
		return nil
	}
	if start := strings.Index(raw, "["); start > 0 {
		raw = raw[start:]
	}
	if end := strings.LastIndex(raw, "]"); end >= 0 {
		raw = raw[:end+1]
	}

	var entities []rag.Entity
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		snippet := raw
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		if log != nil {
			log.Warn("entity extraction returned malformed JSON", "snippet", snippet, "error", err)
		}
		return nil
	}

	out := make([]rag.Entity, 0, len(entities))
	for _, ent := range entities {
		if strings.TrimSpace(ent.Name) == "" {
			continue
		}
		out = append(out, ent)
	}
	return out
}
