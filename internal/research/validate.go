package research

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/scout/internal/helpers"
	"github.com/mohammad-safakhou/scout/internal/search"
)

// Validator cleans a fan-out batch into scored evidence: canonical URLs,
// duplicates dropped, snippets ranked against the round's queries.
type Validator struct {
	logger *log.Logger
}

// NewValidator builds a validator.
func NewValidator(logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(log.Writer(), "[VALIDATE] ", log.LstdFlags)
	}
	return &Validator{logger: logger}
}

type validationDoc struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Validate flattens the batch, normalizes and dedupes source URLs, then
// scores each surviving unit by querying a transient keyword index with the
// round's queries. Output is sorted best-first; ties break on URL so the
// order is deterministic.
func (v *Validator) Validate(queries []string, batch []search.QueryResult) ([]EvidenceUnit, error) {
	units := make([]EvidenceUnit, 0, 16)
	seen := make(map[string]struct{})
	for _, qr := range batch {
		for _, res := range qr.Results {
			canonical, err := helpers.CanonicalURL(res.URL)
			if err != nil || canonical == "" {
				continue
			}
			if _, dup := seen[canonical]; dup {
				continue
			}
			snippet := strings.TrimSpace(res.Snippet)
			if res.Content != "" {
				snippet = strings.TrimSpace(res.Content)
			}
			if snippet == "" && strings.TrimSpace(res.Title) == "" {
				continue
			}
			seen[canonical] = struct{}{}
			units = append(units, EvidenceUnit{
				SourceURL: canonical,
				Title:     strings.TrimSpace(res.Title),
				Snippet:   snippet,
			})
		}
	}
	if len(units) == 0 {
		return nil, nil
	}

	scores, err := v.scoreAgainstQueries(queries, units)
	if err != nil {
		return nil, err
	}
	for i := range units {
		units[i].Score = scores[i]
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Score == units[j].Score {
			return units[i].SourceURL < units[j].SourceURL
		}
		return units[i].Score > units[j].Score
	})
	return units, nil
}

// scoreAgainstQueries indexes every unit into a throwaway mem-only index and
// sums per-query match scores. A unit no query matches scores zero but is
// kept; relevance ordering is advisory, not a filter.
func (v *Validator) scoreAgainstQueries(queries []string, units []EvidenceUnit) ([]float64, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("build validation index: %w", err)
	}
	defer idx.Close()

	for i, unit := range units {
		doc := validationDoc{Title: unit.Title, Snippet: unit.Snippet}
		if err := idx.Index(fmt.Sprintf("%d", i), doc); err != nil {
			return nil, fmt.Errorf("index candidate %d: %w", i, err)
		}
	}

	scores := make([]float64, len(units))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		query := bleve.NewMatchQuery(q)
		req := bleve.NewSearchRequestOptions(query, len(units), 0, false)
		res, err := idx.Search(req)
		if err != nil {
			v.logger.Printf("relevance query %q failed: %v", q, err)
			continue
		}
		for _, hit := range res.Hits {
			var pos int
			if _, err := fmt.Sscanf(hit.ID, "%d", &pos); err != nil {
				continue
			}
			if pos >= 0 && pos < len(scores) {
				scores[pos] += hit.Score
			}
		}
	}
	return scores, nil
}
