package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/mohammad-safakhou/scout/config"
)

// PostgresBackend is the durable backend: evidence chunks live in an
// evidence_chunks table with a pgvector embedding column. Soft-deleted rows
// are flagged rather than removed so hard pruning can run out of band.
type PostgresBackend struct {
	db         *sql.DB
	dimensions int
}

// NewPostgresBackend opens the connection pool and verifies connectivity.
func NewPostgresBackend(ctx context.Context, cfg config.PostgresConfig, dimensions int) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresBackend{db: db, dimensions: dimensions}, nil
}

// NewPostgresBackendWithDB wraps an existing pool. Used by tests.
func NewPostgresBackendWithDB(db *sql.DB, dimensions int) *PostgresBackend {
	return &PostgresBackend{db: db, dimensions: dimensions}
}

func (p *PostgresBackend) Name() string { return "postgres" }

// Close releases the connection pool.
func (p *PostgresBackend) Close() error { return p.db.Close() }

// Upsert implements Backend. Re-upserting a soft-deleted chunk reactivates it.
func (p *PostgresBackend) Upsert(ctx context.Context, chunk Chunk) error {
	if p.dimensions > 0 && len(chunk.Embedding) != p.dimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(chunk.Embedding), p.dimensions)
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO evidence_chunks (id, subgoal_id, chunk_text, embedding, source_url, source_title, fetched_at, active, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,NOW())
ON CONFLICT (id) DO UPDATE SET
  chunk_text = EXCLUDED.chunk_text,
  embedding = EXCLUDED.embedding,
  source_url = EXCLUDED.source_url,
  source_title = EXCLUDED.source_title,
  fetched_at = EXCLUDED.fetched_at,
  active = TRUE,
  updated_at = NOW()
`, chunk.ID, chunk.SubgoalID, chunk.Text, pgvector.NewVector(chunk.Embedding),
		chunk.Source.URL, chunk.Source.Title, chunk.Source.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// Query implements Backend: cosine-distance nearest neighbours over active
// rows only.
func (p *PostgresBackend) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Chunk, error) {
	q := `
SELECT id, subgoal_id, chunk_text, embedding, source_url, source_title, fetched_at
FROM evidence_chunks
WHERE active = TRUE`
	args := []interface{}{pgvector.NewVector(embedding)}
	if filter.SubgoalID != "" {
		args = append(args, filter.SubgoalID)
		q += fmt.Sprintf(" AND subgoal_id = $%d", len(args))
	}
	if filter.Domain != "" {
		args = append(args, "%"+filter.Domain+"%")
		q += fmt.Sprintf(" AND source_url ILIKE $%d", len(args))
	}
	args = append(args, topK)
	q += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// SoftDelete implements Backend: flips the active flag, leaving the row.
func (p *PostgresBackend) SoftDelete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx,
		`UPDATE evidence_chunks SET active = FALSE, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("soft delete chunk %s: %w", id, err)
	}
	return nil
}

// Delete implements Backend: removes the row entirely.
func (p *PostgresBackend) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM evidence_chunks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete chunk %s: %w", id, err)
	}
	return nil
}

// ListActive streams the current live set, ordered by id. The maintenance
// rebuild uses this to repopulate the in-memory backend.
func (p *PostgresBackend) ListActive(ctx context.Context) ([]Chunk, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, subgoal_id, chunk_text, embedding, source_url, source_title, fetched_at
FROM evidence_chunks
WHERE active = TRUE
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// PurgeInactive hard-deletes rows soft-deleted before the cutoff and reports
// how many were removed.
func (p *PostgresBackend) PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM evidence_chunks WHERE active = FALSE AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge inactive chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var (
			chunk     Chunk
			embedding pgvector.Vector
			fetchedAt sql.NullTime
		)
		if err := rows.Scan(&chunk.ID, &chunk.SubgoalID, &chunk.Text, &embedding,
			&chunk.Source.URL, &chunk.Source.Title, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.Embedding = embedding.Slice()
		if fetchedAt.Valid {
			chunk.Source.FetchedAt = fetchedAt.Time
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Backend = (*PostgresBackend)(nil)
