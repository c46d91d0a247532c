package knowledge

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestEncodeVectorLiteral(t *testing.T) {
	got, err := encodeVectorLiteral([]float32{0.5, -1, 0.25})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != "[0.5,-1,0.25]" {
		t.Fatalf("literal = %q", got)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatal("empty vector should error")
	}
}

func TestSearchScoresAndFiltersByThreshold(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "url", "title", "text", "content_type", "created_at", "distance"}).
		AddRow("a", "https://a", "A", "alpha", "general", now, 0.1).
		AddRow("b", "https://b", "B", "beta", "general", now, 0.4).
		AddRow("c", "https://c", "C", "gamma", "general", now, 0.7)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, url, title, text, content_type, created_at, embedding <=> $1::vector AS distance")).
		WithArgs("[1,0]", 3).
		WillReturnRows(rows)

	results, err := s.Search(context.Background(), []float32{1, 0}, 3, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (score 0.3 filtered)", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Fatal("results not in descending score order")
	}
	if results[0].ID != "a" || results[0].Score != 0.9 {
		t.Fatalf("top result = %+v", results[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAddChunksUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO knowledge_chunks"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	chunks := []Chunk{
		{URL: "https://a", Text: "one", ContentType: "general", ChunkIndex: 0, ContentHash: "h", Vector: []float32{0.1, 0.2}},
		{URL: "https://a", Text: "two", ContentType: "general", ChunkIndex: 1, ContentHash: "h", Vector: []float32{0.3, 0.4}},
	}
	if err := s.AddChunks(context.Background(), chunks); err != nil {
		t.Fatalf("AddChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAddChunksRejectsMissingVector(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO knowledge_chunks"))
	mock.ExpectRollback()

	err := s.AddChunks(context.Background(), []Chunk{{URL: "https://a", Text: "x"}})
	if err == nil {
		t.Fatal("expected error for chunk without vector")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAddChunksRollsBackMidBatchFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO knowledge_chunks"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	chunks := []Chunk{
		{URL: "https://a", Text: "one", ChunkIndex: 0, ContentHash: "h", Vector: []float32{0.1}},
		{URL: "https://a", Text: "two", ChunkIndex: 1, ContentHash: "h"},
	}
	err := s.AddChunks(context.Background(), chunks)
	if err == nil {
		t.Fatal("expected error when a later chunk has no vector")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAddChunksReportsCommitFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO knowledge_chunks"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("commit refused"))

	chunks := []Chunk{
		{URL: "https://a", Text: "one", ChunkIndex: 0, ContentHash: "h", Vector: []float32{0.1}},
	}
	err := s.AddChunks(context.Background(), chunks)
	if err == nil || !strings.Contains(err.Error(), "commit refused") {
		t.Fatalf("commit error not surfaced: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestHasSimilar(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	ok, err := s.HasSimilar(context.Background(), []float32{1, 0}, 0.95, time.Hour)
	if err != nil {
		t.Fatalf("HasSimilar: %v", err)
	}
	if !ok {
		t.Fatal("expected similar chunk to be found")
	}

	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	ok, err = s.HasSimilar(context.Background(), []float32{1, 0}, 0.95, 0)
	if err != nil {
		t.Fatalf("HasSimilar empty: %v", err)
	}
	if ok {
		t.Fatal("expected no similar chunk")
	}
}
