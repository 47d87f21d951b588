// Package ids produces the stable identifiers shared by the graph and the
// vector index. The slug algorithm is the single source of truth for concept
// and section ids; changing it invalidates every stored id.
package ids

import "strings"

const conceptPrefix = "concept:"

// Slug lowercases, replaces spaces with "-", drops everything outside
// [a-z0-9-], collapses runs of "-" and trims leading/trailing "-".
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	s = b.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}

// NormalizeConceptID maps a free-form entity name to its concept node id.
// The mapping is idempotent: feeding a concept id's slug back in returns the
// same id.
func NormalizeConceptID(name string) string {
	return conceptPrefix + Slug(strings.TrimPrefix(name, conceptPrefix))
}

// NormalizeSectionID maps a header title to the slug used inside section ids.
func NormalizeSectionID(headerText string) string {
	return Slug(headerText)
}
