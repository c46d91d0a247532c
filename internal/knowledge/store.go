// Package knowledge persists embedded document chunks in Postgres
// (pgvector) and serves similarity search for retrieval-augmented
// generation.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/armansaberi/prism/config"
)

// Chunk is one embedded slice of a source document.
type Chunk struct {
	ID          string
	URL         string
	Title       string
	Text        string
	ContentType string
	ChunkIndex  int
	ContentHash string
	Vector      []float32
	Metadata    map[string]string
	CreatedAt   time.Time
}

// SearchResult is one retrieved passage. Score is cosine similarity,
// reported as 1 - distance.
type SearchResult struct {
	ID          string
	URL         string
	Title       string
	Text        string
	ContentType string
	Score       float64
	CreatedAt   time.Time
}

// Store wraps the Postgres connection for the knowledge base.
type Store struct {
	DB *sql.DB
}

// New opens the store from configuration.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
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

// AddChunks inserts embedded chunks. Re-ingesting the same content hash
// and index replaces the stored row instead of accumulating duplicates
// of the identical slice.
func (s *Store) AddChunks(ctx context.Context, chunks []Chunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var stmt *sql.Stmt
	stmt, err = tx.PrepareContext(ctx, `
INSERT INTO knowledge_chunks (id, url, title, text, content_type, chunk_index, content_hash, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,$9,NOW())
ON CONFLICT (content_hash, chunk_index) DO UPDATE SET
  url = EXCLUDED.url,
  title = EXCLUDED.title,
  text = EXCLUDED.text,
  content_type = EXCLUDED.content_type,
  embedding = EXCLUDED.embedding,
  metadata = EXCLUDED.metadata,
  created_at = NOW();
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if len(c.Vector) == 0 {
			err = fmt.Errorf("embedding vector required for chunk %d of %s", c.ChunkIndex, c.URL)
			return err
		}
		var vectorLiteral string
		vectorLiteral, err = encodeVectorLiteral(c.Vector)
		if err != nil {
			return err
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		meta := c.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		var metaBytes []byte
		metaBytes, err = json.Marshal(meta)
		if err != nil {
			err = fmt.Errorf("marshal metadata: %w", err)
			return err
		}
		if _, err = stmt.ExecContext(ctx, id, c.URL, c.Title, c.Text, c.ContentType, c.ChunkIndex, c.ContentHash, vectorLiteral, metaBytes); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", c.ChunkIndex, c.URL, err)
		}
	}
	return nil
}

// Search returns the closest chunks for the supplied vector, scored by
// cosine similarity, descending, threshold-filtered and truncated to
// topK.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 3
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, url, title, text, content_type, created_at, embedding <=> $1::vector AS distance
FROM knowledge_chunks
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []SearchResult
	for rows.Next() {
		var (
			res      SearchResult
			distance float64
		)
		if err := rows.Scan(&res.ID, &res.URL, &res.Title, &res.Text, &res.ContentType, &res.CreatedAt, &distance); err != nil {
			return nil, err
		}
		res.Score = 1 - distance
		if threshold > 0 && res.Score < threshold {
			continue
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// HasSimilar reports whether a stored chunk already sits within the
// similarity threshold, optionally restricted to a recency window.
// Ingestion does not call this by default; it is the seam for a dedup
// policy.
func (s *Store) HasSimilar(ctx context.Context, vector []float32, threshold float64, window time.Duration) (bool, error) {
	if len(vector) == 0 {
		return false, fmt.Errorf("vector must not be empty")
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return false, err
	}
	if threshold <= 0 {
		threshold = 0.95
	}
	maxDistance := math.Max(0, 1-threshold)
	windowSeconds := int64(window / time.Second)
	row := s.DB.QueryRowContext(ctx, `
SELECT 1
FROM knowledge_chunks
WHERE ($3 <= 0 OR created_at >= NOW() - make_interval(secs => $3))
  AND embedding <=> $1::vector <= $2
LIMIT 1
`, vecLiteral, maxDistance, windowSeconds)
	var exists int
	switch err := row.Scan(&exists); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, err
	}
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n)
	return n, err
}

// StatsByURL returns chunk counts grouped by source URL, newest first.
func (s *Store) StatsByURL(ctx context.Context, limit int) (map[string]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT url, COUNT(*) AS chunks
FROM knowledge_chunks
GROUP BY url
ORDER BY MAX(created_at) DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			url string
			n   int64
		)
		if err := rows.Scan(&url, &n); err != nil {
			return nil, err
		}
		out[url] = n
	}
	return out, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
