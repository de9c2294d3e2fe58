package search

import (
	"context"
	"log"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/search/models"
	"github.com/mohammad-safakhou/scout/internal/telemetry"
)

// Coordinator fans queries out across a static, priority-ordered provider
// chain with per-provider timeouts and fallback.
type Coordinator struct {
	providers   []Provider
	maxResults  int
	timeout     time.Duration
	maxParallel int
	cache       *gocache.Cache
	breaker     *breaker
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// QueryResult is the outcome of one query inside a fan-out batch. A query for
// which every provider failed carries an empty Results slice and a non-nil
// Failure; it never fails the batch.
type QueryResult struct {
	Query    string
	Results  []models.Result
	Provider string // provider that answered, empty on total failure
	Attempts []ProviderFailure
	Failure  *AllProvidersFailedError
}

// NewCoordinator builds a search coordinator from configuration.
func NewCoordinator(cfg config.SearchConfig, maxParallel int, tele *telemetry.Telemetry, logger *log.Logger) (*Coordinator, error) {
	providers, err := NewProviders(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Coordinator{
		providers:   providers,
		maxResults:  cfg.MaxResults,
		timeout:     cfg.Timeout,
		maxParallel: maxParallel,
		cache:       gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		breaker:     newBreaker(cfg.Breaker),
		telemetry:   tele,
		logger:      logger,
	}, nil
}

// NewCoordinatorWithProviders builds a coordinator around an explicit
// provider chain. Used by tests and by callers that construct adapters
// themselves.
func NewCoordinatorWithProviders(providers []Provider, cfg config.SearchConfig, maxParallel int, tele *telemetry.Telemetry, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	if maxParallel <= 0 {
		maxParallel = 8
	}
	cfg = cfg.Normalize()
	return &Coordinator{
		providers:   providers,
		maxResults:  cfg.MaxResults,
		timeout:     cfg.Timeout,
		maxParallel: maxParallel,
		cache:       gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		breaker:     newBreaker(cfg.Breaker),
		telemetry:   tele,
		logger:      logger,
	}
}

// FanOut runs Search for every query concurrently under a bounded worker
// pool and joins all of them before returning. The returned slice is indexed
// like queries; per-query failures are contained in their QueryResult.
func (c *Coordinator) FanOut(ctx context.Context, queries []string) []QueryResult {
	out := make([]QueryResult, len(queries))
	sem := make(chan struct{}, c.maxParallel)
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(idx int, query string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[idx] = QueryResult{Query: query, Failure: &AllProvidersFailedError{
					Query:    query,
					Attempts: []ProviderFailure{{Provider: "-", Reason: ctx.Err().Error()}},
				}}
				return
			}
			out[idx] = c.Search(ctx, query)
		}(i, q)
	}
	wg.Wait()
	return out
}

// Search tries providers in priority order with a bounded timeout each.
// First success wins; every failure is logged and recorded before falling
// through to the next provider.
func (c *Coordinator) Search(ctx context.Context, query string) QueryResult {
	if cached, ok := c.cache.Get(query); ok {
		if res, ok := cached.([]models.Result); ok {
			return QueryResult{Query: query, Results: res, Provider: "cache"}
		}
	}

	var attempts []ProviderFailure
	for _, p := range c.providers {
		if c.breaker.open(p.Name()) {
			attempts = append(attempts, ProviderFailure{Provider: p.Name(), Reason: "circuit open"})
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		results, err := p.Search(callCtx, query, c.maxResults)
		cancel()
		if err == nil && len(results) > 0 {
			c.breaker.recordSuccess(p.Name())
			c.telemetry.RecordProviderAttempt(p.Name(), true)
			c.cache.Set(query, results, gocache.DefaultExpiration)
			return QueryResult{Query: query, Results: results, Provider: p.Name(), Attempts: attempts}
		}
		reason := "empty response"
		if err != nil {
			reason = err.Error()
		}
		c.breaker.recordFailure(p.Name())
		c.telemetry.RecordProviderAttempt(p.Name(), false)
		c.logger.Printf("provider %s failed for %q: %s", p.Name(), query, reason)
		attempts = append(attempts, ProviderFailure{Provider: p.Name(), Reason: reason})
	}

	failure := &AllProvidersFailedError{Query: query, Attempts: attempts}
	c.logger.Printf("%v", failure)
	return QueryResult{Query: query, Attempts: attempts, Failure: failure}
}
