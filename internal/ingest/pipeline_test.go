package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/armansaberi/prism/config"
	"github.com/armansaberi/prism/internal/knowledge"
	"github.com/armansaberi/prism/internal/scrape"
)

type stubScraper struct {
	failing map[string]error
}

func (s *stubScraper) Fetch(_ context.Context, rawURL string) (scrape.Result, error) {
	if err, ok := s.failing[rawURL]; ok {
		return scrape.Result{}, err
	}
	return scrape.Result{
		URL:            rawURL,
		Title:          "Title for " + rawURL,
		Text:           variedText(1200),
		ContentHash:    sha1Hex(rawURL),
		RenderDuration: 10 * time.Millisecond,
	}, nil
}

type stubEmbedder struct{ err error }

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2, 0.3}
	}
	return vecs, nil
}

type memorySink struct {
	mu     sync.Mutex
	chunks []knowledge.Chunk
}

func (m *memorySink) AddChunks(_ context.Context, chunks []knowledge.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func newTestPipeline(scraper scrape.Scraper, sink ChunkSink) *Pipeline {
	return NewPipeline(
		config.ScrapeConfig{Timeout: 30 * time.Second, BatchLimit: 10},
		scraper,
		NewProcessor(config.ChunkConfig{Size: 800, Overlap: 100}),
		&stubEmbedder{},
		sink,
		nil,
		nil,
	)
}

func TestIngestOneStoresChunks(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(&stubScraper{}, sink)

	res := p.IngestOne(context.Background(), "https://example.com/a", map[string]string{"source": "manual"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.ChunksCreated == 0 || res.ChunksAddedToRAG != res.ChunksCreated {
		t.Fatalf("chunk counts = %+v", res)
	}
	if len(sink.chunks) != res.ChunksAddedToRAG {
		t.Fatalf("sink holds %d chunks, result says %d", len(sink.chunks), res.ChunksAddedToRAG)
	}
	if sink.chunks[0].Metadata["source"] != "manual" {
		t.Fatal("caller metadata not attached to chunks")
	}
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	scraper := &stubScraper{failing: map[string]error{
		urls[3]: fmt.Errorf("%w: %s", scrape.ErrTimeout, urls[3]),
	}}
	p := newTestPipeline(scraper, &memorySink{})

	results, err := p.IngestBatch(context.Background(), urls, nil)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(results) != len(urls) {
		t.Fatalf("got %d results for %d urls", len(results), len(urls))
	}
	var failures int
	for i, res := range results {
		if res.URL != urls[i] {
			t.Fatalf("result %d is for %s, want input order", i, res.URL)
		}
		if !res.Success {
			failures++
			if !strings.Contains(res.Error, "scrape-failure") {
				t.Fatalf("failure entry = %+v", res)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want exactly 1", failures)
	}
}

func TestIngestBatchRejectsOversized(t *testing.T) {
	p := newTestPipeline(&stubScraper{}, &memorySink{})
	urls := make([]string, 11)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	_, err := p.IngestBatch(context.Background(), urls, nil)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("err = %v, want ErrBatchTooLarge", err)
	}
}

func TestIngestOneReportsEmbeddingFailure(t *testing.T) {
	p := newTestPipeline(&stubScraper{}, &memorySink{})
	p.embedder = &stubEmbedder{err: errors.New("runtime down")}

	res := p.IngestOne(context.Background(), "https://example.com/a", nil)
	if res.Success {
		t.Fatal("expected failure when embedder is down")
	}
	if !strings.Contains(res.Error, "upstream-unavailable") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestAddDocuments(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(&stubScraper{}, sink)

	n, err := p.AddDocuments(context.Background(), []Document{
		{Text: variedText(900), Title: "Manual note"},
		{Text: "too short"},
	})
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if n == 0 || n != len(sink.chunks) {
		t.Fatalf("stored %d, sink has %d", n, len(sink.chunks))
	}
}
