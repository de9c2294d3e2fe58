package index

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/scout/internal/telemetry"
)

// Hybrid fronts the two evidence backends: a fast in-memory store for
// retrieval during a session and a durable Postgres store for persistence.
// Reads always hit the active backend only; writes go to both when dual-write
// is on.
type Hybrid struct {
	memory  *MemoryBackend
	durable Backend

	active    Backend
	dualWrite bool
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewHybrid wires the backends together. durable may be nil when the
// deployment runs memory-only; active must name a configured backend.
func NewHybrid(memory *MemoryBackend, durable Backend, activeName string, dualWrite bool, tele *telemetry.Telemetry, logger *log.Logger) (*Hybrid, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	h := &Hybrid{
		memory:    memory,
		durable:   durable,
		dualWrite: dualWrite && durable != nil,
		telemetry: tele,
		logger:    logger,
	}
	switch activeName {
	case "memory":
		h.active = memory
	case "postgres":
		if durable == nil {
			return nil, fmt.Errorf("active backend postgres requested but no durable backend configured")
		}
		h.active = durable
	default:
		return nil, fmt.Errorf("unknown active backend %q", activeName)
	}
	return h, nil
}

// ActiveBackend reports which backend serves reads.
func (h *Hybrid) ActiveBackend() string { return h.active.Name() }

// Ingest assigns ids to the chunks and writes them to the configured
// backends. Per-chunk write failures are reported in the result rather than
// aborting the batch; the returned error is non-nil only when no chunk
// reached the active backend at all.
func (h *Hybrid) Ingest(ctx context.Context, subgoalID string, chunks []Chunk) (IngestResult, error) {
	var res IngestResult
	activeOK := 0
	for _, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = NewChunkID(subgoalID)
		}
		if chunk.SubgoalID == "" {
			chunk.SubgoalID = subgoalID
		}
		if chunk.Source.FetchedAt.IsZero() {
			chunk.Source.FetchedAt = time.Now().UTC()
		}
		res.ChunkIDs = append(res.ChunkIDs, chunk.ID)

		if err := h.active.Upsert(ctx, chunk); err != nil {
			h.telemetry.RecordIndexWrite(h.active.Name(), false)
			h.logger.Printf("upsert %s on %s failed: %v", chunk.ID, h.active.Name(), err)
			res.Partial = append(res.Partial, PartialWrite{ChunkID: chunk.ID, Backend: h.active.Name(), Err: err})
		} else {
			h.telemetry.RecordIndexWrite(h.active.Name(), true)
			activeOK++
		}

		if h.dualWrite {
			if secondary := h.secondary(); secondary != nil {
				if err := secondary.Upsert(ctx, chunk); err != nil {
					h.telemetry.RecordIndexWrite(secondary.Name(), false)
					h.logger.Printf("upsert %s on %s failed: %v", chunk.ID, secondary.Name(), err)
					res.Partial = append(res.Partial, PartialWrite{ChunkID: chunk.ID, Backend: secondary.Name(), Err: err})
				} else {
					h.telemetry.RecordIndexWrite(secondary.Name(), true)
				}
			}
		}
	}
	if len(chunks) > 0 && activeOK == 0 {
		return res, fmt.Errorf("ingest: all %d chunks failed on active backend %s", len(chunks), h.active.Name())
	}
	return res, nil
}

// Query retrieves nearest neighbours from the active backend.
func (h *Hybrid) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Chunk, error) {
	return h.active.Query(ctx, embedding, topK, filter)
}

// SearchText fuses vector and keyword ranking when the in-memory backend is
// active; the durable backend falls back to plain vector search.
func (h *Hybrid) SearchText(ctx context.Context, embedding []float32, q string, topK int, filter Filter) ([]Chunk, error) {
	if h.active == Backend(h.memory) {
		return h.memory.HybridSearch(ctx, embedding, q, topK, filter)
	}
	return h.active.Query(ctx, embedding, topK, filter)
}

// Prune soft-deletes every active in-memory chunk the predicate matches, on
// both backends. Calling it again with the same predicate is a no-op because
// soft delete is idempotent.
func (h *Hybrid) Prune(ctx context.Context, predicate func(Chunk) bool) (int, error) {
	pruned := 0
	for _, chunk := range h.memory.ActiveChunks(Filter{}) {
		if !predicate(chunk) {
			continue
		}
		if err := h.memory.SoftDelete(ctx, chunk.ID); err != nil {
			return pruned, fmt.Errorf("soft delete %s on memory: %w", chunk.ID, err)
		}
		if h.durable != nil {
			if err := h.durable.SoftDelete(ctx, chunk.ID); err != nil {
				return pruned, fmt.Errorf("soft delete %s on %s: %w", chunk.ID, h.durable.Name(), err)
			}
		}
		pruned++
	}
	if pruned > 0 {
		h.logger.Printf("soft-pruned %d chunks", pruned)
	}
	return pruned, nil
}

// HardDelete erases a chunk from every backend.
func (h *Hybrid) HardDelete(ctx context.Context, id string) error {
	if err := h.memory.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s on memory: %w", id, err)
	}
	if h.durable != nil {
		if err := h.durable.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete %s on %s: %w", id, h.durable.Name(), err)
		}
	}
	return nil
}

// RebuildFromDurable replaces the in-memory backend's contents with the
// durable live set. A no-op without a durable backend.
func (h *Hybrid) RebuildFromDurable(ctx context.Context) (int, error) {
	lister, ok := h.durable.(interface {
		ListActive(ctx context.Context) ([]Chunk, error)
	})
	if !ok {
		return 0, nil
	}
	chunks, err := lister.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list durable live set: %w", err)
	}
	if err := h.memory.Rebuild(chunks); err != nil {
		return 0, fmt.Errorf("rebuild memory backend: %w", err)
	}
	h.logger.Printf("rebuilt memory backend with %d chunks from %s", len(chunks), h.durable.Name())
	return len(chunks), nil
}

func (h *Hybrid) secondary() Backend {
	if h.active == Backend(h.memory) {
		return h.durable
	}
	return h.memory
}
