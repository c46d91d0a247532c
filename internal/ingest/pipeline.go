package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/armansaberi/prism/config"
	"github.com/armansaberi/prism/internal/knowledge"
	"github.com/armansaberi/prism/internal/scrape"
)

// ErrBatchTooLarge rejects batches beyond the configured ceiling before
// any URL is touched.
var ErrBatchTooLarge = errors.New("batch exceeds limit")

// Embedder produces vectors for chunk texts. The llm client is bound to
// the embedding model before it reaches the pipeline.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkSink persists embedded chunks. *knowledge.Store satisfies it.
type ChunkSink interface {
	AddChunks(ctx context.Context, chunks []knowledge.Chunk) error
}

// Indexer mirrors stored chunks into the keyword index. Optional.
type Indexer interface {
	Add(c knowledge.Chunk) error
}

// URLResult is the per-URL outcome of an ingestion run. Batches always
// return one result per input URL.
type URLResult struct {
	URL              string `json:"url"`
	Success          bool   `json:"success"`
	Title            string `json:"title,omitempty"`
	ChunksCreated    int    `json:"chunks_created"`
	ChunksAddedToRAG int    `json:"chunks_added_to_rag"`
	ContentLength    int    `json:"content_length"`
	Error            string `json:"error,omitempty"`
}

// Document is manually supplied knowledge, ingested without scraping.
type Document struct {
	Text     string            `json:"text"`
	Title    string            `json:"title,omitempty"`
	URL      string            `json:"url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Pipeline composes Scraper, Processor, Embedder and the knowledge
// store into single-URL and bounded-batch ingestion.
type Pipeline struct {
	scraper    scrape.Scraper
	processor  *Processor
	embedder   Embedder
	sink       ChunkSink
	index      Indexer
	batchLimit int
	logger     *log.Logger
	onChunks   func(disposition string, n int)
}

// NewPipeline wires the ingestion flow. index and onChunks may be nil.
func NewPipeline(cfg config.ScrapeConfig, scraper scrape.Scraper, processor *Processor, embedder Embedder, sink ChunkSink, index Indexer, onChunks func(string, int)) *Pipeline {
	return &Pipeline{
		scraper:    scraper,
		processor:  processor,
		embedder:   embedder,
		sink:       sink,
		index:      index,
		batchLimit: cfg.BatchLimit,
		logger:     log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
		onChunks:   onChunks,
	}
}

// IngestOne scrapes, processes, embeds and stores a single URL. All
// failures are reported in the result, never as a Go error, so batch
// callers can aggregate uniformly.
func (p *Pipeline) IngestOne(ctx context.Context, rawURL string, metadata map[string]string) URLResult {
	res := URLResult{URL: rawURL}

	page, err := p.scraper.Fetch(ctx, rawURL)
	if err != nil {
		res.Error = fmt.Sprintf("scrape-failure: %v", err)
		p.logger.Printf("scrape failed for %s: %v", rawURL, err)
		return res
	}
	res.Title = page.Title
	res.ContentLength = len(page.Text)

	chunks := p.processor.Process(page.Text)
	res.ChunksCreated = len(chunks)
	if len(chunks) == 0 {
		res.Error = fmt.Sprintf("scrape-failure: %v", scrape.ErrEmptyExtraction)
		return res
	}

	stored, err := p.store(ctx, page.URL, page.Title, page.ContentHash, chunks, metadata)
	if err != nil {
		res.Error = fmt.Sprintf("upstream-unavailable: %v", err)
		if p.onChunks != nil {
			p.onChunks("failed", len(chunks))
		}
		return res
	}
	res.ChunksAddedToRAG = stored
	res.Success = true
	if p.onChunks != nil {
		p.onChunks("stored", stored)
	}
	p.logger.Printf("ingested %s: %d chunks", page.URL, stored)
	return res
}

// IngestBatch fans out up to batchLimit URLs with one goroutine per
// URL. Failures stay isolated per URL; the batch always returns one
// result per input, in input order.
func (p *Pipeline) IngestBatch(ctx context.Context, urls []string, metadata map[string]string) ([]URLResult, error) {
	if len(urls) == 0 {
		return nil, errors.New("no urls provided")
	}
	if len(urls) > p.batchLimit {
		return nil, fmt.Errorf("%w: %d urls, limit %d", ErrBatchTooLarge, len(urls), p.batchLimit)
	}

	results := make([]URLResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchLimit)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = p.IngestOne(gctx, u, metadata)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// AddDocuments ingests caller-supplied texts, bypassing the scraper.
// Returns the number of chunks stored.
func (p *Pipeline) AddDocuments(ctx context.Context, docs []Document) (int, error) {
	total := 0
	for _, doc := range docs {
		chunks := p.processor.Process(doc.Text)
		if len(chunks) == 0 {
			continue
		}
		hash := sha1Hex(doc.Text)
		stored, err := p.store(ctx, doc.URL, doc.Title, hash, chunks, doc.Metadata)
		if err != nil {
			return total, err
		}
		total += stored
	}
	if p.onChunks != nil && total > 0 {
		p.onChunks("stored", total)
	}
	return total, nil
}

func (p *Pipeline) store(ctx context.Context, url, title, contentHash string, chunks []Chunk, metadata map[string]string) (int, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding: %w", err)
	}

	records := make([]knowledge.Chunk, len(chunks))
	for i, c := range chunks {
		records[i] = knowledge.Chunk{
			ID:          fmt.Sprintf("%s#%03d", contentHash, c.Index),
			URL:         url,
			Title:       title,
			Text:        c.Text,
			ContentType: c.ContentType,
			ChunkIndex:  c.Index,
			ContentHash: contentHash,
			Vector:      vectors[i],
			Metadata:    metadata,
		}
	}
	if err := p.sink.AddChunks(ctx, records); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}
	if p.index != nil {
		for _, rec := range records {
			if err := p.index.Add(rec); err != nil {
				p.logger.Printf("keyword index add failed for %s: %v", rec.ID, err)
			}
		}
	}
	return len(records), nil
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
