// Package scrape fetches pages with a headless browser and extracts
// readable article text for ingestion.
package scrape

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"

	"github.com/armansaberi/prism/config"
)

var (
	// ErrTimeout marks pages that did not render within the deadline.
	ErrTimeout = errors.New("scrape timeout")
	// ErrEmptyExtraction marks pages that rendered but yielded no
	// readable text.
	ErrEmptyExtraction = errors.New("empty extraction")
)

// Result is one successfully scraped page.
type Result struct {
	URL            string
	Title          string
	Text           string
	ContentHash    string
	RenderDuration time.Duration
}

// Scraper fetches one URL. The browser implementation is the default;
// tests substitute stubs.
type Scraper interface {
	Fetch(ctx context.Context, rawURL string) (Result, error)
}

// Browser scrapes with chromedp and runs readability over the rendered
// DOM.
type Browser struct {
	timeout   time.Duration
	headless  bool
	userAgent string
}

// NewBrowser creates a scraper from configuration.
func NewBrowser(cfg config.ScrapeConfig) *Browser {
	ua := cfg.UserAgent
	if ua == "" {
		ua = "PrismAssistant/1.0 (+contact@example.com)"
	}
	return &Browser{timeout: cfg.Timeout, headless: cfg.Headless, userAgent: ua}
}

// Fetch renders rawURL and extracts the article body. URL validation
// failures return ErrInvalidURL; deadline overruns return ErrTimeout;
// readable-but-empty pages return ErrEmptyExtraction.
func (b *Browser) Fetch(ctx context.Context, rawURL string) (Result, error) {
	parsed, err := ValidateURL(rawURL)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	t0 := time.Now()

	html, err := b.fetchHTML(ctx, parsed.String())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %s", ErrTimeout, rawURL)
		}
		return Result{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return Result{}, fmt.Errorf("extracting %s: %w", rawURL, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyExtraction, rawURL)
	}

	sum := sha1.Sum([]byte(html))
	return Result{
		URL:            parsed.String(),
		Title:          strings.TrimSpace(article.Title),
		Text:           text,
		ContentHash:    hex.EncodeToString(sum[:]),
		RenderDuration: time.Since(t0),
	}, nil
}

func (b *Browser) fetchHTML(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.UserAgent(b.userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
