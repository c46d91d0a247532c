// Package ingest turns scraped pages into embeddable knowledge chunks
// and drives the batch ingestion pipeline.
package ingest

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/armansaberi/prism/config"
)

// Chunk is one filtered slice of a document, ready for embedding.
type Chunk struct {
	Index       int
	Text        string
	ContentType string
}

// Content type tags attached to chunks. Retrieval does not branch on
// them yet; they ride along as metadata.
const (
	TypeCode     = "code"
	TypeTutorial = "tutorial"
	TypeQA       = "qa"
	TypeGeneral  = "general"
)

var (
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)

	boilerplateRe = regexp.MustCompile(`(?i)^\s*(accept (all )?cookies|cookie (policy|settings)|subscribe to our newsletter|sign up for|all rights reserved|privacy policy|terms of (service|use)|skip to (main )?content|toggle navigation|share (this|on)|follow us)`)

	codeHintRe     = regexp.MustCompile(`(?i)(\bfunc\b|\bdef\b|\bclass\b|\bimport\b|\breturn\b|[{};]\s*$|=>|\bconsole\.log\b|\bprintln?\b)`)
	tutorialHintRe = regexp.MustCompile(`(?i)(step \d|how to|tutorial|guide|first,|next,|finally,|getting started)`)
	qaHintRe       = regexp.MustCompile(`(?i)(^q:|\ba:\s|question:|answer:|\bfaq\b|asked|replied)`)
)

// Processor cleans, splits, filters and tags document text.
type Processor struct {
	size     int
	overlap  int
	minChars int
	minWords int
}

// NewProcessor creates a processor from chunking configuration.
func NewProcessor(cfg config.ChunkConfig) *Processor {
	return &Processor{size: cfg.Size, overlap: cfg.Overlap, minChars: 100, minWords: 10}
}

// Process runs the full clean/split/filter/tag sequence. Chunks that
// fail quality filters are dropped; indices are assigned after
// filtering so they stay contiguous.
func (p *Processor) Process(text string) []Chunk {
	cleaned := p.Clean(text)
	if cleaned == "" {
		return nil
	}
	var chunks []Chunk
	for _, part := range makeChunks(cleaned, p.size, p.overlap) {
		if !p.keep(part) {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        part,
			ContentType: tagContentType(part),
		})
	}
	return chunks
}

// Clean normalizes whitespace and drops navigation boilerplate lines.
func (p *Processor) Clean(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = whitespaceRe.ReplaceAllString(strings.TrimSpace(line), " ")
		if boilerplateRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// keep applies the chunk quality filters: minimum length, minimum word
// count, alphanumeric density, and a repetition check on unique words.
func (p *Processor) keep(chunk string) bool {
	if len(chunk) < p.minChars {
		return false
	}
	words := strings.Fields(chunk)
	if len(words) < p.minWords {
		return false
	}
	var alnum, total int
	for _, r := range chunk {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if total == 0 || float64(alnum)/float64(total) < 0.7 {
		return false
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
	}
	if float64(len(unique))/float64(len(words)) < 0.3 {
		return false
	}
	return true
}

func tagContentType(chunk string) string {
	switch {
	case len(codeHintRe.FindAllString(chunk, 3)) >= 2:
		return TypeCode
	case tutorialHintRe.MatchString(chunk):
		return TypeTutorial
	case qaHintRe.MatchString(chunk):
		return TypeQA
	default:
		return TypeGeneral
	}
}

func makeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end > len(text) {
			end = len(text)
		} else {
			end = alignRune(text, end)
		}
		if end <= start {
			_, n := utf8.DecodeRuneInString(text[start:])
			end = start + n
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = alignRune(text, end-overlap)
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// alignRune walks i back to the start of the rune containing it, so
// chunk boundaries never cut a multi-byte character in half.
func alignRune(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
