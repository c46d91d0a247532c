// Package store is the Postgres persistence layer for accounts and
// scheduled scrape sources.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/armansaberi/prism/config"
	"github.com/armansaberi/prism/internal/gate"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type Store struct {
	DB *sql.DB
}

// New opens a connection using the configured DSN and verifies it.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Account operations

type Account struct {
	ID        string
	Email     string
	Plan      string
	Locked    bool
	CreatedAt time.Time
}

// CreateAccount inserts a new account. A duplicate email comes back as
// ErrDuplicateEmail.
func (s *Store) CreateAccount(ctx context.Context, email, passwordHash, plan string) (Account, error) {
	var a Account
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO accounts (email, password_hash, plan) VALUES ($1,$2,$3) RETURNING id, email, plan, locked, created_at`,
		email, passwordHash, plan,
	).Scan(&a.ID, &a.Email, &a.Plan, &a.Locked, &a.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, err
	}
	return a, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM accounts WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// GetAccount resolves the plan and lock state the gate needs.
func (s *Store) GetAccount(ctx context.Context, id string) (gate.Account, error) {
	var a gate.Account
	err := s.DB.QueryRowContext(ctx, `SELECT id, plan, locked FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.Plan, &a.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return gate.Account{}, ErrNotFound
	}
	return a, err
}

// LockAccount flips the lock flag. The transition is one-way from the
// gate's point of view; UnlockAccount exists for operator tooling.
func (s *Store) LockAccount(ctx context.Context, id string) error {
	return s.setLocked(ctx, id, true)
}

func (s *Store) UnlockAccount(ctx context.Context, id string) error {
	return s.setLocked(ctx, id, false)
}

func (s *Store) setLocked(ctx context.Context, id string, locked bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE accounts SET locked=$1 WHERE id=$2`, locked, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Scrape source operations

// ScrapeSource is a URL re-scraped on a cron schedule.
type ScrapeSource struct {
	ID        string
	URL       string
	CronSpec  string
	Metadata  map[string]string
	LastRunAt *time.Time
	CreatedAt time.Time
}

func (s *Store) AddSource(ctx context.Context, url, cronSpec string, metadata map[string]string) (string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx,
		`INSERT INTO scrape_sources (url, cron_spec, metadata) VALUES ($1,$2,$3) RETURNING id`,
		url, cronSpec, meta,
	).Scan(&id)
	return id, err
}

func (s *Store) ListSources(ctx context.Context) ([]ScrapeSource, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, url, cron_spec, metadata, last_run_at, created_at FROM scrape_sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScrapeSource
	for rows.Next() {
		var src ScrapeSource
		var meta []byte
		var lastRun sql.NullTime
		if err := rows.Scan(&src.ID, &src.URL, &src.CronSpec, &meta, &lastRun, &src.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &src.Metadata); err != nil {
				return nil, err
			}
		}
		if lastRun.Valid {
			t := lastRun.Time
			src.LastRunAt = &t
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) MarkSourceRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE scrape_sources SET last_run_at=$1 WHERE id=$2`, at, id)
	return err
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM scrape_sources WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
