package index

import (
	"context"
	"fmt"
	"time"
)

// Chunk is a unit of retrievable evidence text plus its embedding and source
// metadata. Chunks outlive a single research session.
type Chunk struct {
	ID        string      `json:"id"`
	SubgoalID string      `json:"subgoal_id"`
	Text      string      `json:"text"`
	Embedding []float32   `json:"embedding"`
	Source    ChunkSource `json:"source"`
}

// ChunkSource records where a chunk's text came from.
type ChunkSource struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Filter narrows a query to a subgoal and/or source domain. Zero values match
// everything.
type Filter struct {
	SubgoalID string
	Domain    string
}

// PartialWrite names a backend that rejected a chunk during dual-write
// ingestion.
type PartialWrite struct {
	ChunkID string
	Backend string
	Err     error
}

func (p PartialWrite) Error() string {
	return fmt.Sprintf("index write failed: chunk %s on backend %s: %v", p.ChunkID, p.Backend, p.Err)
}

// IngestResult reports the outcome of one Ingest call. Ingestion succeeded
// fully when Partial is empty; otherwise each entry names the chunk and the
// backend that failed, and the caller decides whether to retry or accept
// degraded single-backend availability.
type IngestResult struct {
	ChunkIDs []string
	Partial  []PartialWrite
}

// Backend is one of the two stores behind the hybrid index.
type Backend interface {
	Name() string
	Upsert(ctx context.Context, chunk Chunk) error
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Chunk, error)
	// SoftDelete removes the chunk from the active retrieval mapping without
	// erasing underlying storage. Idempotent.
	SoftDelete(ctx context.Context, id string) error
	// Delete erases the chunk entirely. Idempotent.
	Delete(ctx context.Context, id string) error
}
