package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/search/models"
)

// fakeProvider counts calls and fails on demand.
type fakeProvider struct {
	mu       sync.Mutex
	name     string
	fail     bool
	failFor  map[string]bool
	calls    int
	perQuery map[string]int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, failFor: make(map[string]bool), perQuery: make(map[string]int)}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	f.mu.Lock()
	f.calls++
	f.perQuery[q]++
	fail := f.fail || f.failFor[q]
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%s unavailable", f.name)
	}
	return []models.Result{{
		URL:     fmt.Sprintf("https://%s.example/%s", f.name, strings.ReplaceAll(q, " ", "-")),
		Title:   q,
		Snippet: "result for " + q,
	}}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxResults: 5,
		Timeout:    2 * time.Second,
		CacheTTL:   time.Minute,
	}
}

func TestFanOutPartialFailure(t *testing.T) {
	p := newFakeProvider("brave")
	p.failFor["q2"] = true
	p.failFor["q4"] = true
	c := NewCoordinatorWithProviders([]Provider{p}, testSearchConfig(), 4, nil, nil)

	queries := []string{"q1", "q2", "q3", "q4", "q5"}
	batch := c.FanOut(context.Background(), queries)

	if len(batch) != 5 {
		t.Fatalf("batch size = %d, want 5", len(batch))
	}
	nonEmpty, empty := 0, 0
	for i, qr := range batch {
		if qr.Query != queries[i] {
			t.Fatalf("batch order broken: %q at %d", qr.Query, i)
		}
		if len(qr.Results) > 0 {
			nonEmpty++
			if qr.Failure != nil {
				t.Fatalf("successful query %q carries a failure", qr.Query)
			}
		} else {
			empty++
			if qr.Failure == nil {
				t.Fatalf("failed query %q missing its failure record", qr.Query)
			}
		}
	}
	if nonEmpty != 3 || empty != 2 {
		t.Fatalf("got %d non-empty / %d empty, want 3/2", nonEmpty, empty)
	}
}

func TestSearchFallbackOrderRecordsAttempts(t *testing.T) {
	a := newFakeProvider("brave")
	a.fail = true
	b := newFakeProvider("serper")
	c := NewCoordinatorWithProviders([]Provider{a, b}, testSearchConfig(), 2, nil, nil)

	res := c.Search(context.Background(), "fallback query")
	if res.Failure != nil {
		t.Fatalf("unexpected total failure: %v", res.Failure)
	}
	if res.Provider != "serper" {
		t.Fatalf("answering provider = %q, want serper", res.Provider)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Provider != "brave" {
		t.Fatalf("first provider's failed attempt not recorded: %+v", res.Attempts)
	}
	if !strings.Contains(res.Attempts[0].Reason, "unavailable") {
		t.Fatalf("attempt reason lost: %+v", res.Attempts[0])
	}
}

func TestSearchAllProvidersFailed(t *testing.T) {
	a := newFakeProvider("brave")
	a.fail = true
	b := newFakeProvider("serper")
	b.fail = true
	c := NewCoordinatorWithProviders([]Provider{a, b}, testSearchConfig(), 2, nil, nil)

	res := c.Search(context.Background(), "doomed")
	if res.Failure == nil {
		t.Fatal("expected AllProvidersFailedError")
	}
	if len(res.Failure.Attempts) != 2 {
		t.Fatalf("attempts = %d, want one per provider", len(res.Failure.Attempts))
	}
	if res.Failure.Attempts[0].Provider != "brave" || res.Failure.Attempts[1].Provider != "serper" {
		t.Fatalf("attempts out of priority order: %+v", res.Failure.Attempts)
	}
	msg := res.Failure.Error()
	if !strings.Contains(msg, "doomed") || !strings.Contains(msg, "brave") {
		t.Fatalf("error message missing context: %q", msg)
	}
}

func TestSearchCacheShortCircuits(t *testing.T) {
	p := newFakeProvider("brave")
	c := NewCoordinatorWithProviders([]Provider{p}, testSearchConfig(), 2, nil, nil)

	first := c.Search(context.Background(), "repeat me")
	if first.Provider != "brave" {
		t.Fatalf("first lookup provider = %q", first.Provider)
	}
	second := c.Search(context.Background(), "repeat me")
	if second.Provider != "cache" {
		t.Fatalf("second lookup should hit the cache, got provider %q", second.Provider)
	}
	if p.callCount() != 1 {
		t.Fatalf("provider called %d times, want 1", p.callCount())
	}
}

func TestBreakerSkipsAfterThreshold(t *testing.T) {
	cfg := testSearchConfig()
	cfg.Breaker = config.CircuitBreakerConfig{Enabled: true, Threshold: 2, Window: time.Hour}
	a := newFakeProvider("brave")
	a.fail = true
	b := newFakeProvider("serper")
	c := NewCoordinatorWithProviders([]Provider{a, b}, cfg, 2, nil, nil)

	// Two failures trip the breaker for brave.
	c.Search(context.Background(), "one")
	c.Search(context.Background(), "two")
	callsBefore := a.callCount()

	res := c.Search(context.Background(), "three")
	if a.callCount() != callsBefore {
		t.Fatalf("open breaker still called the provider")
	}
	if res.Provider != "serper" {
		t.Fatalf("fallback provider = %q, want serper", res.Provider)
	}
	found := false
	for _, att := range res.Attempts {
		if att.Provider == "brave" && att.Reason == "circuit open" {
			found = true
		}
	}
	if !found {
		t.Fatalf("skipped provider must be recorded as circuit open: %+v", res.Attempts)
	}
}

func TestBreakerDisabledByDefault(t *testing.T) {
	a := newFakeProvider("brave")
	a.fail = true
	b := newFakeProvider("serper")
	c := NewCoordinatorWithProviders([]Provider{a, b}, testSearchConfig(), 2, nil, nil)

	for i := 0; i < 5; i++ {
		c.Search(context.Background(), fmt.Sprintf("q%d", i))
	}
	if a.callCount() != 5 {
		t.Fatalf("disabled breaker must never skip: %d calls, want 5", a.callCount())
	}
}

func TestBreakerReprobesAfterWindow(t *testing.T) {
	b := &breaker{threshold: 2, window: time.Minute, state: make(map[string]*breakerState)}
	now := time.Now()
	b.now = func() time.Time { return now }

	b.recordFailure("brave")
	b.recordFailure("brave")
	if !b.open("brave") {
		t.Fatal("breaker should be open after threshold failures")
	}
	now = now.Add(2 * time.Minute)
	if b.open("brave") {
		t.Fatal("expired window must allow a probe")
	}
	// The probe failing reopens immediately.
	b.recordFailure("brave")
	if !b.open("brave") {
		t.Fatal("failed probe must reopen the breaker")
	}
}
