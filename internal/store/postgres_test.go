package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"deepresearch/internal/state"
)

func TestPostgresSaveFacts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &PostgresStore{DB: db}
	f := state.NewFact("claim with substance", "source-a", 75)

	query := regexp.QuoteMeta(`
INSERT INTO facts (id, content, source, confidence_score, extracted_at, disputed, tags, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content,
  confidence_score = EXCLUDED.confidence_score,
  disputed = EXCLUDED.disputed,
  tags = EXCLUDED.tags,
  metadata = EXCLUDED.metadata;
`)
	mock.ExpectExec(query).
		WithArgs(f.ID, f.Content, f.Source, f.ConfidenceScore, f.ExtractedAt, f.Disputed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveFacts(context.Background(), []state.Fact{f}); err != nil {
		t.Fatalf("SaveFacts: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetAllFacts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &PostgresStore{DB: db}
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "content", "source", "confidence_score", "extracted_at", "disputed", "tags", "metadata"}).
		AddRow("id-1", "first claim", "src", 80, now, false, []byte(`["ai"]`), nil).
		AddRow("id-2", "second claim", "src", 60, now, true, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, content, source, confidence_score, extracted_at, disputed, tags, metadata
FROM facts ORDER BY extracted_at ASC`)).WillReturnRows(rows)

	facts, err := st.GetAllFacts(context.Background())
	if err != nil {
		t.Fatalf("GetAllFacts: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[0].Tags == nil || facts[0].Tags[0] != "ai" {
		t.Fatalf("tags not decoded: %+v", facts[0])
	}
	if !facts[1].Disputed {
		t.Fatalf("disputed flag not decoded")
	}
}

func TestPostgresGetUserByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &PostgresStore{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email = $1`)).
		WithArgs("user@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("uid-1", "hash"))

	id, hash, err := st.GetUserByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if id != "uid-1" || hash != "hash" {
		t.Fatalf("unexpected result: %s %s", id, hash)
	}
}

func TestPostgresClear(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &PostgresStore{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM facts`)).WillReturnResult(sqlmock.NewResult(0, 3))
	if err := st.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}
