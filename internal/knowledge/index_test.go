package knowledge

import "testing"

func TestKeywordIndexSearch(t *testing.T) {
	idx, err := NewKeywordIndex()
	if err != nil {
		t.Fatalf("NewKeywordIndex: %v", err)
	}
	chunks := []Chunk{
		{ID: "1", URL: "https://go.dev/blog", Title: "Concurrency", Text: "Goroutines and channels make concurrent programming tractable."},
		{ID: "2", URL: "https://pg.org/docs", Title: "Indexes", Text: "Postgres supports btree and gin index types for query planning."},
	}
	for _, c := range chunks {
		if err := idx.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if idx.Size() != 2 {
		t.Fatalf("Size = %d, want 2", idx.Size())
	}

	hits, err := idx.Search("goroutines", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].URL != "https://go.dev/blog" || hits[0].Rank != 1 {
		t.Fatalf("unexpected hit %+v", hits[0])
	}
}
