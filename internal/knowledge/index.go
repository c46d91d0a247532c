package knowledge

import (
	"sync"

	"github.com/blevesearch/bleve"
)

// KeywordIndex is a BM25 index over ingested chunks, kept in memory for
// keyword introspection of the knowledge base. It is volatile: rebuilt
// per process as ingestion runs.
type KeywordIndex struct {
	index bleve.Index
	meta  map[string]Chunk
	mu    sync.RWMutex
}

// KeywordHit is one BM25 match.
type KeywordHit struct {
	DocID   string  `json:"doc_id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// NewKeywordIndex creates an empty mem-only index.
func NewKeywordIndex() (*KeywordIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &KeywordIndex{index: index, meta: make(map[string]Chunk)}, nil
}

// Add indexes one chunk under its store ID.
func (k *KeywordIndex) Add(c Chunk) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.meta[c.ID] = c
	return k.index.Index(c.ID, map[string]string{
		"url":          c.URL,
		"title":        c.Title,
		"text":         c.Text,
		"content_type": c.ContentType,
	})
}

// Search runs a query-string BM25 search and returns the top k hits.
func (k *KeywordIndex) Search(q string, topK int) ([]KeywordHit, error) {
	if topK <= 0 {
		topK = 5
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, topK, 0, false)
	k.mu.RLock()
	defer k.mu.RUnlock()
	res, err := k.index.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []KeywordHit
	for i, hit := range res.Hits {
		doc := k.meta[hit.ID]
		out = append(out, KeywordHit{
			DocID:   hit.ID,
			URL:     doc.URL,
			Title:   doc.Title,
			Snippet: snippet(doc.Text),
			Score:   hit.Score,
			Rank:    i + 1,
		})
	}
	return out, nil
}

// Size returns the number of indexed chunks.
func (k *KeywordIndex) Size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.meta)
}

func snippet(text string) string {
	const max = 200
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}
