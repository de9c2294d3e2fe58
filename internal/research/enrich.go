package research

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/scout/config"
)

const maxEnrichedChars = 4000

// Enricher replaces the search-engine snippet of the best results with
// readable article text fetched from the page itself. Failures leave the
// original snippet in place.
type Enricher struct {
	client  *http.Client
	topK    int
	enabled bool
	logger  *log.Logger
}

// NewEnricher builds an enricher from configuration.
func NewEnricher(cfg config.EnrichConfig, logger *log.Logger) *Enricher {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENRICH] ", log.LstdFlags)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Enricher{
		client:  &http.Client{Timeout: timeout},
		topK:    topK,
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

// Enrich fetches up to topK pages and swaps their snippets for extracted
// article text. Units must already be sorted best-first. Never fails the
// round; a fetch or extraction error is logged and skipped.
func (e *Enricher) Enrich(ctx context.Context, units []EvidenceUnit) []EvidenceUnit {
	if e == nil || !e.enabled {
		return units
	}
	limit := e.topK
	if limit > len(units) {
		limit = len(units)
	}
	for i := 0; i < limit; i++ {
		text, err := e.fetchReadable(ctx, units[i].SourceURL)
		if err != nil {
			e.logger.Printf("enrich %s skipped: %v", units[i].SourceURL, err)
			continue
		}
		if text != "" {
			units[i].Snippet = text
		}
	}
	return units
}

func (e *Enricher) fetchReadable(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "scout/1.0")
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxEnrichedChars {
		text = text[:maxEnrichedChars]
	}
	return text, nil
}
