package index

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/scout/internal/helpers"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// MemoryBackend is the fast in-memory backend: cosine similarity over raw
// vectors with a bleve mem-only keyword sidecar. Contents do not survive a
// restart; Rebuild repopulates it from the durable backend's live set.
type MemoryBackend struct {
	mu      sync.RWMutex
	chunks  map[string]Chunk
	active  map[string]struct{}
	keyword bleve.Index
}

type keywordDoc struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() (*MemoryBackend, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{
		chunks:  make(map[string]Chunk),
		active:  make(map[string]struct{}),
		keyword: idx,
	}, nil
}

func (m *MemoryBackend) Name() string { return "memory" }

// Upsert implements Backend.
func (m *MemoryBackend) Upsert(ctx context.Context, chunk Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunk.ID] = chunk
	m.active[chunk.ID] = struct{}{}
	return m.keyword.Index(chunk.ID, keywordDoc{Text: chunk.Text, Title: chunk.Source.Title})
}

// Query implements Backend: cosine similarity over the active set.
func (m *MemoryBackend) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		chunk Chunk
		score float64
	}
	var candidates []scored
	for id := range m.active {
		chunk, ok := m.chunks[id]
		if !ok || !matchesFilter(chunk, filter) {
			continue
		}
		candidates = append(candidates, scored{chunk: chunk, score: cosine(embedding, chunk.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].chunk.ID < candidates[j].chunk.ID
		}
		return candidates[i].score > candidates[j].score
	})
	out := make([]Chunk, 0, topK)
	for _, c := range candidates {
		if len(out) >= topK {
			break
		}
		out = append(out, c.chunk)
	}
	return out, nil
}

// KeywordSearch ranks active chunks against a query string via the bleve
// sidecar. Pruned chunks are excluded even though bleve may still hold them.
func (m *MemoryBackend) KeywordSearch(q string, topK int) ([]Chunk, error) {
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, topK*3, 0, false)
	res, err := m.keyword.Search(req)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Chunk
	for _, hit := range res.Hits {
		if _, ok := m.active[hit.ID]; !ok {
			continue
		}
		if chunk, ok := m.chunks[hit.ID]; ok {
			out = append(out, chunk)
			if len(out) >= topK {
				break
			}
		}
	}
	return out, nil
}

// HybridSearch fuses vector and keyword rankings with reciprocal-rank fusion.
func (m *MemoryBackend) HybridSearch(ctx context.Context, embedding []float32, q string, topK int, filter Filter) ([]Chunk, error) {
	byVector, err := m.Query(ctx, embedding, topK, filter)
	if err != nil {
		return nil, err
	}
	byKeyword, err := m.KeywordSearch(q, topK)
	if err != nil {
		return nil, err
	}
	type agg struct {
		chunk Chunk
		score float64
	}
	fused := make(map[string]*agg)
	add := func(list []Chunk) {
		for rank, chunk := range list {
			if !matchesFilter(chunk, filter) {
				continue
			}
			entry, ok := fused[chunk.ID]
			if !ok {
				entry = &agg{chunk: chunk}
				fused[chunk.ID] = entry
			}
			entry.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(byVector)
	add(byKeyword)
	ranked := make([]*agg, 0, len(fused))
	for _, entry := range fused {
		ranked = append(ranked, entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].chunk.ID < ranked[j].chunk.ID
		}
		return ranked[i].score > ranked[j].score
	})
	out := make([]Chunk, 0, topK)
	for _, entry := range ranked {
		if len(out) >= topK {
			break
		}
		out = append(out, entry.chunk)
	}
	return out, nil
}

// SoftDelete implements Backend: the chunk leaves the active mapping but its
// vector and bleve entry stay put, avoiding an index rebuild mid-session.
func (m *MemoryBackend) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	delete(m.chunks, id)
	return m.keyword.Delete(id)
}

// ActiveChunks returns a snapshot of the active set, optionally filtered.
func (m *MemoryBackend) ActiveChunks(filter Filter) []Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Chunk, 0, len(m.active))
	for id := range m.active {
		if chunk, ok := m.chunks[id]; ok && matchesFilter(chunk, filter) {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCount returns the size of the active retrieval set.
func (m *MemoryBackend) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Rebuild replaces the whole backend state with the provided live set.
func (m *MemoryBackend) Rebuild(chunks []Chunk) error {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[string]Chunk, len(chunks))
	m.active = make(map[string]struct{}, len(chunks))
	m.keyword = idx
	for _, chunk := range chunks {
		m.chunks[chunk.ID] = chunk
		m.active[chunk.ID] = struct{}{}
		if err := m.keyword.Index(chunk.ID, keywordDoc{Text: chunk.Text, Title: chunk.Source.Title}); err != nil {
			return err
		}
	}
	return nil
}

func matchesFilter(chunk Chunk, filter Filter) bool {
	if filter.SubgoalID != "" && chunk.SubgoalID != filter.SubgoalID {
		return false
	}
	if filter.Domain != "" && !strings.EqualFold(helpers.Domain(chunk.Source.URL), filter.Domain) {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ Backend = (*MemoryBackend)(nil)
