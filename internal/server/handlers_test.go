package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/armansaberi/prism/config"
	"github.com/armansaberi/prism/internal/ingest"
	"github.com/armansaberi/prism/internal/knowledge"
	"github.com/armansaberi/prism/internal/llm"
	"github.com/armansaberi/prism/internal/orchestrator"
	"github.com/armansaberi/prism/internal/router"
)

type stubRunner struct {
	resp orchestrator.Response
	perr *orchestrator.PipelineError
	got  orchestrator.Request
}

func (s *stubRunner) Handle(_ context.Context, req orchestrator.Request) (orchestrator.Response, *orchestrator.PipelineError) {
	s.got = req
	return s.resp, s.perr
}

type stubIngestor struct {
	one      ingest.URLResult
	batch    []ingest.URLResult
	batchErr error
	added    int
	addErr   error
}

func (s *stubIngestor) IngestOne(_ context.Context, rawURL string, _ map[string]string) ingest.URLResult {
	return s.one
}

func (s *stubIngestor) IngestBatch(_ context.Context, urls []string, _ map[string]string) ([]ingest.URLResult, error) {
	return s.batch, s.batchErr
}

func (s *stubIngestor) AddDocuments(_ context.Context, docs []ingest.Document) (int, error) {
	return s.added, s.addErr
}

type stubCounter struct {
	count int64
	stats map[string]int64
	err   error
}

func (s stubCounter) Count(context.Context) (int64, error) { return s.count, s.err }
func (s stubCounter) StatsByURL(context.Context, int) (map[string]int64, error) {
	return s.stats, s.err
}

type stubModels struct {
	available bool
	models    []llm.ModelInfo
}

func (s stubModels) Models(context.Context) ([]llm.ModelInfo, error) { return s.models, nil }
func (s stubModels) Available(context.Context) bool                  { return s.available }

func newTestContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestGenerateHappyPath(t *testing.T) {
	runner := &stubRunner{resp: orchestrator.Response{
		Query:        "hello",
		Payload:      "world",
		ResponseType: "text",
		Metadata:     map[string]interface{}{"degraded": false},
	}}
	h := &GenerateHandler{Pipeline: runner}

	c, rec := newTestContext(t, http.MethodPost, "/generate", `{"prompt":"hello"}`)
	c.Request().Header.Set(fingerprintHeader, "fp-1")
	c.Set("account_id", "acct-1")

	if err := h.generate(c); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["response"] != "world" {
		t.Fatalf("unexpected body: %v", body)
	}
	if runner.got.AccountID != "acct-1" || runner.got.Fingerprint != "fp-1" {
		t.Fatalf("identity not forwarded: %+v", runner.got)
	}
}

func TestGenerateMissingFingerprint(t *testing.T) {
	h := &GenerateHandler{Pipeline: &stubRunner{}}
	c, _ := newTestContext(t, http.MethodPost, "/generate", `{"prompt":"hello"}`)
	c.Set("account_id", "acct-1")

	err := h.generate(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
}

func TestGenerateDomainFailureIsHTTP200(t *testing.T) {
	runner := &stubRunner{perr: &orchestrator.PipelineError{
		Kind:    orchestrator.KindRateLimited,
		Stage:   orchestrator.StageRateChecked,
		Message: "request rate above ceiling",
	}}
	h := &GenerateHandler{Pipeline: runner}

	c, rec := newTestContext(t, http.MethodPost, "/generate", `{"prompt":"hello"}`)
	c.Request().Header.Set(fingerprintHeader, "fp-1")
	c.Set("account_id", "acct-1")

	if err := h.generate(c); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("domain failures must ride HTTP 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error"] != "rate-limited" {
		t.Fatalf("unexpected envelope: %v", body)
	}
}

func TestGenerateValidationFailureIsHTTP400(t *testing.T) {
	runner := &stubRunner{perr: &orchestrator.PipelineError{
		Kind:    orchestrator.KindValidation,
		Stage:   orchestrator.StageReceived,
		Message: "prompt is required",
	}}
	h := &GenerateHandler{Pipeline: runner}

	c, _ := newTestContext(t, http.MethodPost, "/generate", `{}`)
	c.Request().Header.Set(fingerprintHeader, "fp-1")
	c.Set("account_id", "acct-1")

	err := h.generate(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
}

func TestRouteHandler(t *testing.T) {
	h := &RouteHandler{Router: router.New(config.RouterConfig{ConfidenceThreshold: 0.4})}
	c, rec := newTestContext(t, http.MethodPost, "/route", `{"query":"Write a function that reverses a string"}`)

	if err := h.route(c); err != nil {
		t.Fatalf("route: %v", err)
	}
	body := decodeBody(t, rec)
	routing, ok := body["routing"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing routing block: %v", body)
	}
	if routing["model_type"] != "code" {
		t.Fatalf("model_type = %v", routing["model_type"])
	}
}

func TestScrapeBatchRejectsOversize(t *testing.T) {
	h := &ScrapeHandler{Pipeline: &stubIngestor{batchErr: ingest.ErrBatchTooLarge}}
	c, _ := newTestContext(t, http.MethodPost, "/scrape/batch", `{"urls":["u1"]}`)

	err := h.scrapeBatch(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
}

func TestScrapeOneReturnsResultEnvelope(t *testing.T) {
	h := &ScrapeHandler{Pipeline: &stubIngestor{one: ingest.URLResult{
		URL: "https://example.com", Success: false, Error: "scrape-failure: timeout",
	}}}
	c, rec := newTestContext(t, http.MethodPost, "/scrape", `{"url":"https://example.com"}`)

	if err := h.scrapeOne(c); err != nil {
		t.Fatalf("scrapeOne: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("per-URL failures stay inside the 200 envelope, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error"] != "scrape-failure: timeout" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestScrapeStats(t *testing.T) {
	h := &ScrapeHandler{Chunks: stubCounter{count: 42, stats: map[string]int64{"https://example.com": 42}}}
	c, rec := newTestContext(t, http.MethodGet, "/scrape/stats", "")

	if err := h.stats(c); err != nil {
		t.Fatalf("stats: %v", err)
	}
	body := decodeBody(t, rec)
	if body["total_chunks"] != float64(42) {
		t.Fatalf("total_chunks = %v", body["total_chunks"])
	}
}

func TestAddSourceValidatesURLAndCron(t *testing.T) {
	h := &ScrapeHandler{}

	c, _ := newTestContext(t, http.MethodPost, "/scrape/sources", `{"url":"http://localhost/x","cron_spec":"@daily"}`)
	err := h.addSource(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("unsafe url must 400, got %v", err)
	}

	c, _ = newTestContext(t, http.MethodPost, "/scrape/sources", `{"url":"https://example.com","cron_spec":"not a cron"}`)
	err = h.addSource(c)
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("bad cron must 400, got %v", err)
	}
}

func TestKnowledgeAddUpstreamFailure(t *testing.T) {
	h := &KnowledgeHandler{Pipeline: &stubIngestor{addErr: errors.New("embedder unreachable")}}
	c, rec := newTestContext(t, http.MethodPost, "/knowledge/add", `{"documents":[{"text":"some text"}]}`)

	if err := h.add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || !strings.HasPrefix(body["error"].(string), "upstream-unavailable") {
		t.Fatalf("unexpected envelope: %v", body)
	}
}

func TestKnowledgeSearch(t *testing.T) {
	index, err := knowledge.NewKeywordIndex()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := index.Add(knowledge.Chunk{
		ID: "c1", URL: "https://example.com", Title: "Concurrency",
		Text: "Goroutines are lightweight threads managed by the Go runtime.",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	searches := 0
	h := &KnowledgeHandler{Index: index, OnSearch: func() { searches++ }}
	c, rec := newTestContext(t, http.MethodGet, "/knowledge/search?q=goroutines&k=5", "")

	if err := h.search(c); err != nil {
		t.Fatalf("search: %v", err)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(1) {
		t.Fatalf("total = %v", body["total"])
	}
	if searches != 1 {
		t.Fatalf("search hook fired %d times", searches)
	}
}

func TestKnowledgeSearchRequiresQuery(t *testing.T) {
	h := &KnowledgeHandler{}
	c, _ := newTestContext(t, http.MethodGet, "/knowledge/search", "")
	err := h.search(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %v", err)
	}
}

func TestSystemStatus(t *testing.T) {
	h := &SystemHandler{
		Runtime: stubModels{available: true, models: []llm.ModelInfo{{Name: "llama3.1:8b"}, {Name: "nomic-embed-text"}}},
		Chunks:  stubCounter{count: 7},
		Version: Version,
	}
	c, rec := newTestContext(t, http.MethodGet, "/system/status", "")

	if err := h.status(c); err != nil {
		t.Fatalf("status: %v", err)
	}
	body := decodeBody(t, rec)
	llmStatus := body["llm"].(map[string]interface{})
	if llmStatus["available"] != true {
		t.Fatalf("llm should be available: %v", body)
	}
	if len(llmStatus["models"].([]interface{})) != 2 {
		t.Fatalf("models = %v", llmStatus["models"])
	}
	kb := body["knowledge_store"].(map[string]interface{})
	if kb["available"] != true || kb["chunks"] != float64(7) {
		t.Fatalf("knowledge_store = %v", kb)
	}
}

func TestHealth(t *testing.T) {
	h := &SystemHandler{Version: Version}
	c, rec := newTestContext(t, http.MethodGet, "/health", "")
	if err := h.health(c); err != nil {
		t.Fatalf("health: %v", err)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["version"] != Version {
		t.Fatalf("unexpected health body: %v", body)
	}
}
