package search

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/search/brave"
	"github.com/mohammad-safakhou/scout/internal/search/models"
	"github.com/mohammad-safakhou/scout/internal/search/searxng"
	"github.com/mohammad-safakhou/scout/internal/search/serper"
)

// Provider wraps one external retrieval service behind a uniform search
// capability.
type Provider interface {
	Name() string
	Search(ctx context.Context, q string, k int) ([]models.Result, error)
}

// NewProvider builds a provider adapter by name.
func NewProvider(name string, cfg config.SearchConfig) (Provider, error) {
	switch name {
	case "brave":
		if cfg.Brave.APIKey == "" {
			return nil, fmt.Errorf("brave api key not configured")
		}
		return brave.Search{APIKey: cfg.Brave.APIKey}, nil
	case "serper":
		if cfg.Serper.APIKey == "" {
			return nil, fmt.Errorf("serper api key not configured")
		}
		return serper.Search{APIKey: cfg.Serper.APIKey}, nil
	case "searxng":
		if cfg.SearxNG.BaseURL == "" {
			return nil, fmt.Errorf("searxng base url not configured")
		}
		return searxng.Search{BaseURL: cfg.SearxNG.BaseURL}, nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", name)
	}
}

// NewProviders builds the provider chain in the configured priority order.
func NewProviders(cfg config.SearchConfig) ([]Provider, error) {
	if len(cfg.ProviderPriority) == 0 {
		return nil, fmt.Errorf("search.provider_priority is empty")
	}
	out := make([]Provider, 0, len(cfg.ProviderPriority))
	for _, name := range cfg.ProviderPriority {
		p, err := NewProvider(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("building provider %s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}
