package models

// Result is a single hit returned by a retrieval provider.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"` // filled by enrichment, not providers
}
