package markdown

import "strings"

// ResolveLink resolves a relative markdown link against the directory of the
// source file. It is pure string math: fragments are stripped, "." and ".."
// segments are normalized, and the result is lowercased. An empty result
// means the link does not resolve to a document path.
func ResolveLink(sourceFilePath, linkURL string) string {
	linkURL = strings.TrimSpace(linkURL)
	if linkURL == "" {
		return ""
	}
	if idx := strings.Index(linkURL, "#"); idx >= 0 {
		linkURL = linkURL[:idx]
	}
	if linkURL == "" {
		return ""
	}

	sourceDir := dirOf(strings.ReplaceAll(sourceFilePath, "\\", "/"))
	joined := linkURL
	if sourceDir != "" {
		joined = sourceDir + "/" + linkURL
	}

	var stack []string
	for _, seg := range strings.Split(joined, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return strings.ToLower(strings.Join(stack, "/"))
}

// IsInternalLink reports whether a link URL can resolve to a document in the
// corpus. Absolute URLs and mail links are external by definition.
func IsInternalLink(linkURL string) bool {
	linkURL = strings.TrimSpace(linkURL)
	if linkURL == "" || strings.HasPrefix(linkURL, "#") {
		return false
	}
	if strings.Contains(linkURL, "://") || strings.HasPrefix(linkURL, "mailto:") {
		return false
	}
	return true
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
