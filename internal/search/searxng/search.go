package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/scout/internal/search/models"
)

// Search queries a self-hosted SearxNG instance over its JSON API. No API key
// is required, which makes it a useful last-resort provider.
type Search struct {
	BaseURL string
}

func (s Search) Name() string { return "searxng" }

func (s Search) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	base := strings.TrimSuffix(s.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("searxng base url not configured")
	}
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", base, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}
	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []models.Result
	for i, r := range raw.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
