package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestCreateAccount(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("a@example.com", "hash", "free").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "plan", "locked", "created_at"}).
			AddRow("acct-1", "a@example.com", "free", false, now))

	a, err := s.CreateAccount(context.Background(), "a@example.com", "hash", "free")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if a.ID != "acct-1" || a.Plan != "free" || a.Locked {
		t.Fatalf("unexpected account: %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO accounts`).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.CreateAccount(context.Background(), "a@example.com", "hash", "free")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, plan, locked FROM accounts`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan", "locked"}))

	_, err := s.GetAccount(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLockAccount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE accounts SET locked`).
		WithArgs(true, "acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.LockAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("LockAccount: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLockAccountMissingRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE accounts SET locked`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.LockAccount(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddAndListSources(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO scrape_sources`).
		WithArgs("https://example.com/docs", "0 6 * * *", []byte(`{"tag":"docs"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("src-1"))

	id, err := s.AddSource(context.Background(), "https://example.com/docs", "0 6 * * *", map[string]string{"tag": "docs"})
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if id != "src-1" {
		t.Fatalf("id = %q", id)
	}

	created := time.Now()
	lastRun := created.Add(-time.Hour)
	mock.ExpectQuery(`SELECT id, url, cron_spec, metadata, last_run_at, created_at FROM scrape_sources`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "cron_spec", "metadata", "last_run_at", "created_at"}).
			AddRow("src-1", "https://example.com/docs", "0 6 * * *", []byte(`{"tag":"docs"}`), lastRun, created).
			AddRow("src-2", "https://example.com/blog", "@hourly", nil, nil, created))

	sources, err := s.ListSources(context.Background())
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources", len(sources))
	}
	if sources[0].Metadata["tag"] != "docs" {
		t.Fatalf("metadata not decoded: %+v", sources[0])
	}
	if sources[0].LastRunAt == nil || !sources[0].LastRunAt.Equal(lastRun) {
		t.Fatalf("last_run_at not decoded: %+v", sources[0].LastRunAt)
	}
	if sources[1].LastRunAt != nil {
		t.Fatal("never-run source should have nil LastRunAt")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkSourceRun(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now()
	mock.ExpectExec(`UPDATE scrape_sources SET last_run_at`).
		WithArgs(at, "src-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkSourceRun(context.Background(), "src-1", at); err != nil {
		t.Fatalf("MarkSourceRun: %v", err)
	}
}
