package index

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresSoftDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgresBackendWithDB(db, 3)

	mock.ExpectExec(`UPDATE evidence_chunks SET active = FALSE, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := p.SoftDelete(context.Background(), "c-1"); err != nil {
		t.Fatalf("SoftDelete returned error: %v", err)
	}

	// Pruning an already-pruned chunk matches zero rows and still succeeds.
	mock.ExpectExec(`UPDATE evidence_chunks SET active = FALSE, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := p.SoftDelete(context.Background(), "c-1"); err != nil {
		t.Fatalf("repeat SoftDelete returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgresBackendWithDB(db, 3)

	mock.ExpectExec(`DELETE FROM evidence_chunks WHERE id = \$1`).
		WithArgs("c-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := p.Delete(context.Background(), "c-2"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPurgeInactive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgresBackendWithDB(db, 3)
	cutoff := time.Now().Add(-7 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM evidence_chunks WHERE active = FALSE AND updated_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	purged, err := p.PurgeInactive(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeInactive returned error: %v", err)
	}
	if purged != 4 {
		t.Fatalf("expected 4 chunks purged, got %d", purged)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresUpsertRejectsWrongDimensions(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	p := NewPostgresBackendWithDB(db, 1536)
	err = p.Upsert(context.Background(), Chunk{ID: "c-3", Embedding: []float32{1, 2, 3}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
