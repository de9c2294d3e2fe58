package helpers

import (
	"fmt"
	"strings"
)

// Citation models metadata for a single referenced source.
type Citation struct {
	Index   int
	Title   string
	URL     string
	Snippet string
}

// citationConfig controls formatting behaviour.
type citationConfig struct {
	maxSnippet int
}

// CitationOption configures citation formatting.
type CitationOption func(*citationConfig)

// WithMaxSnippetLength truncates snippets to the provided length (default 180).
func WithMaxSnippetLength(n int) CitationOption {
	return func(cfg *citationConfig) {
		if n > 0 {
			cfg.maxSnippet = n
		}
	}
}

// FormatCitation renders a single citation line in a consistent layout:
// [k] Title — "Snippet" (domain) <URL>
func FormatCitation(c Citation, opts ...CitationOption) string {
	cfg := citationConfig{maxSnippet: 180}
	for _, opt := range opts {
		opt(&cfg)
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("[%d]", c.Index))

	if title := strings.TrimSpace(c.Title); title != "" {
		parts = append(parts, title)
	}
	if snippet := formatSnippet(c.Snippet, cfg.maxSnippet); snippet != "" {
		parts = append(parts, "— "+snippet)
	}
	if domain := Domain(c.URL); domain != "" {
		parts = append(parts, "("+domain+")")
	}
	if link := strings.TrimSpace(c.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

// FormatCitations renders a collection of citations, one line each.
func FormatCitations(citations []Citation, opts ...CitationOption) []string {
	if len(citations) == 0 {
		return nil
	}
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		out = append(out, FormatCitation(c, opts...))
	}
	return out
}

func formatSnippet(snippet string, limit int) string {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return ""
	}
	snippet = strings.Join(strings.Fields(snippet), " ")
	if limit > 0 && len(snippet) > limit {
		snippet = snippet[:limit]
		if !strings.HasSuffix(snippet, "…") {
			snippet += "…"
		}
	}
	if !strings.HasPrefix(snippet, "\"") {
		snippet = `"` + snippet
	}
	if !strings.HasSuffix(snippet, "\"") {
		snippet = snippet + `"`
	}
	return snippet
}
