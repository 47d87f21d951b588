// Package markdown is the pure parsing layer of the ingestion pipeline:
// frontmatter, headers, links, fenced code blocks and header-bounded
// chunking. It never touches the filesystem or the network.
package markdown

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Header struct {
	Level int
	Text  string
	Line  int // 0-based
}

type Link struct {
	Text string
	URL  string
}

type CodeBlock struct {
	Language string
	Code     string
}

// ChunkSpan is one header-delimited slice of the body. Content includes the
// header line itself so concatenating spans reconstructs the body.
type ChunkSpan struct {
	Index      int
	Content    string
	StartLine  int
	HeaderPath string // " > "-joined titles of the enclosing header stack
}

var headerRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// ParseFrontmatter strips an optional leading "---"-delimited YAML block and
// returns the remaining body. The frontmatter map is nil when the block is
// absent or unparseable; a bad block is still stripped.
func ParseFrontmatter(content string) (string, map[string]any) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return content, nil
	}
	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closing = i
			break
		}
	}
	if closing < 0 {
		return content, nil
	}

	body := strings.Join(lines[closing+1:], "\n")
	raw := strings.Join(lines[1:closing], "\n")

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return body, nil
	}
	return body, fm
}

// ExtractHeaders enumerates ATX headers with their 0-based line numbers.
// Headers inside fenced code blocks are skipped.
func ExtractHeaders(body string) []Header {
	var out []Header
	inFence := false
	for i, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Header{
			Level: len(m[1]),
			Text:  strings.TrimSpace(m[2]),
			Line:  i,
		})
	}
	return out
}

var linkRe = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)

// ExtractLinks returns inline [text](url) links. Image embeds and reference
// links are not followed.
func ExtractLinks(body string) []Link {
	var out []Link
	for _, loc := range linkRe.FindAllStringSubmatchIndex(body, -1) {
		if loc[0] > 0 && body[loc[0]-1] == '!' {
			continue
		}
		out = append(out, Link{
			Text: body[loc[2]:loc[3]],
			URL:  strings.TrimSpace(body[loc[4]:loc[5]]),
		})
	}
	return out
}

// ExtractCodeBlocks returns fenced code blocks in order. Language is the
// info-string and may be empty.
func ExtractCodeBlocks(body string) []CodeBlock {
	var out []CodeBlock
	var code []string
	lang := ""
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				out = append(out, CodeBlock{Language: lang, Code: strings.Join(code, "\n")})
				code = nil
				inFence = false
				continue
			}
			inFence = true
			lang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			continue
		}
		if inFence {
			code = append(code, line)
		}
	}
	return out
}

// ChunkByHeaders splits the body at every header. Content before the first
// header becomes chunk 0 with an empty header path; a body with no headers
// yields a single chunk starting at line 0.
func ChunkByHeaders(body string) []ChunkSpan {
	lines := strings.Split(body, "\n")
	headers := ExtractHeaders(body)

	if len(headers) == 0 {
		if strings.TrimSpace(body) == "" {
			return nil
		}
		return []ChunkSpan{{Index: 0, Content: body, StartLine: 0, HeaderPath: ""}}
	}

	var out []ChunkSpan
	appendSpan := func(start, end int, path string) {
		content := strings.Join(lines[start:end], "\n")
		if path == "" && strings.TrimSpace(content) == "" {
			return
		}
		out = append(out, ChunkSpan{
			Index:      len(out),
			Content:    content,
			StartLine:  start,
			HeaderPath: path,
		})
	}

	if headers[0].Line > 0 {
		appendSpan(0, headers[0].Line, "")
	}

	// Stack of enclosing header titles, one entry per open level.
	type stackEntry struct {
		level int
		title string
	}
	var stack []stackEntry

	for i, h := range headers {
		for len(stack) > 0 && stack[len(stack)-1].level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, stackEntry{level: h.Level, title: h.Text})

		titles := make([]string, 0, len(stack))
		for _, e := range stack {
			titles = append(titles, e.title)
		}

		end := len(lines)
		if i+1 < len(headers) {
			end = headers[i+1].Line
		}
		appendSpan(h.Line, end, strings.Join(titles, " > "))
	}
	return out
}

// EstimateTokens approximates the token count of a chunk.
func EstimateTokens(content string) int {
	return len(content) / 4
}
