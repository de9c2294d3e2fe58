package search

import (
	"sync"
	"time"

	"github.com/mohammad-safakhou/scout/config"
)

// breaker tracks consecutive failures per provider. A provider that failed
// threshold times in a row is skipped until the window since its last failure
// has elapsed; the next attempt after that re-probes it. Opt-in only.
type breaker struct {
	threshold int
	window    time.Duration

	mu    sync.Mutex
	state map[string]*breakerState
	now   func() time.Time
}

type breakerState struct {
	consecutive int
	lastFailure time.Time
}

func newBreaker(cfg config.CircuitBreakerConfig) *breaker {
	if !cfg.Enabled {
		return nil
	}
	return &breaker{
		threshold: cfg.Threshold,
		window:    cfg.Window,
		state:     make(map[string]*breakerState),
		now:       time.Now,
	}
}

// open reports whether the provider should be skipped. A nil breaker never
// skips.
func (b *breaker) open(provider string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[provider]
	if !ok || st.consecutive < b.threshold {
		return false
	}
	if b.now().Sub(st.lastFailure) >= b.window {
		// Window expired: allow one probe attempt.
		st.consecutive = b.threshold - 1
		return false
	}
	return true
}

func (b *breaker) recordSuccess(provider string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, provider)
}

func (b *breaker) recordFailure(provider string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[provider]
	if !ok {
		st = &breakerState{}
		b.state[provider] = st
	}
	st.consecutive++
	st.lastFailure = b.now()
}
