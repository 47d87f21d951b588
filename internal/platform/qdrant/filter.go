package qdrant

import "sort"

// Search filters are metadata equality predicates ANDed together. They
// translate to a qdrant "must" list of match conditions. Keys are sorted so
// the generated filter is deterministic for the same input.
func translateEqualityFilters(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, matchCondition(k, filters[k]))
	}
	return map[string]any{"must": must}
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}
