package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/armansaberi/prism/internal/ingest"
	"github.com/armansaberi/prism/internal/knowledge"
	"github.com/armansaberi/prism/internal/llm"
	"github.com/armansaberi/prism/internal/orchestrator"
	"github.com/armansaberi/prism/internal/router"
	"github.com/armansaberi/prism/internal/scrape"
	"github.com/armansaberi/prism/internal/store"
)

const fingerprintHeader = "X-Device-Fingerprint"

// PipelineRunner is the orchestrator seam the generate handler needs.
type PipelineRunner interface {
	Handle(ctx context.Context, req orchestrator.Request) (orchestrator.Response, *orchestrator.PipelineError)
}

// Ingestor is the ingestion pipeline seam.
type Ingestor interface {
	IngestOne(ctx context.Context, rawURL string, metadata map[string]string) ingest.URLResult
	IngestBatch(ctx context.Context, urls []string, metadata map[string]string) ([]ingest.URLResult, error)
	AddDocuments(ctx context.Context, docs []ingest.Document) (int, error)
}

// ChunkCounter exposes the aggregate views of the chunk store.
type ChunkCounter interface {
	Count(ctx context.Context) (int64, error)
	StatsByURL(ctx context.Context, limit int) (map[string]int64, error)
}

// GenerateResponse is the success envelope around a pipeline response.
type GenerateResponse struct {
	Success bool `json:"success"`
	orchestrator.Response
}

// GenerateHandler runs the full pipeline.
type GenerateHandler struct {
	Pipeline PipelineRunner
}

func (h *GenerateHandler) Register(g *echo.Group) {
	g.POST("/generate", h.generate)
}

// Domain failures (auth deny, rate limit, upstream down) ride a 200
// envelope with success=false; only malformed requests get HTTP 4xx.
func (h *GenerateHandler) generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fingerprint := c.Request().Header.Get(fingerprintHeader)
	if fingerprint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, fingerprintHeader+" header is required")
	}
	accountID, _ := c.Get("account_id").(string)

	resp, perr := h.Pipeline.Handle(c.Request().Context(), orchestrator.Request{
		AccountID:        accountID,
		Fingerprint:      fingerprint,
		Prompt:           req.Prompt,
		Model:            req.Model,
		ContextThreshold: req.ContextThreshold,
		Metadata:         req.Metadata,
	})
	if perr != nil {
		if perr.Kind == orchestrator.KindValidation {
			return echo.NewHTTPError(http.StatusBadRequest, perr.Message)
		}
		return c.JSON(http.StatusOK, DomainError{Success: false, Error: perr.Typed()})
	}
	return c.JSON(http.StatusOK, GenerateResponse{Success: true, Response: resp})
}

// RouteHandler exposes the classifier for introspection. No gate or
// rate limit applies; the decision is deterministic and side-effect
// free.
type RouteHandler struct {
	Router *router.Router
}

func (h *RouteHandler) Register(g *echo.Group) {
	g.POST("/route", h.route)
}

func (h *RouteHandler) route(c echo.Context) error {
	var req RouteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"routing": h.Router.Route(req.Query, req.Model),
	})
}

// ScrapeHandler ingests URLs, one-shot and scheduled.
type ScrapeHandler struct {
	Pipeline Ingestor
	Chunks   ChunkCounter
	Sources  *store.Store
}

func (h *ScrapeHandler) Register(g *echo.Group) {
	g.POST("/scrape", h.scrapeOne)
	g.POST("/scrape/batch", h.scrapeBatch)
	g.GET("/scrape/stats", h.stats)
	g.POST("/scrape/sources", h.addSource)
	g.GET("/scrape/sources", h.listSources)
}

func (h *ScrapeHandler) scrapeOne(c echo.Context) error {
	var req ScrapeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	// Per-URL failures live inside the result envelope.
	return c.JSON(http.StatusOK, h.Pipeline.IngestOne(c.Request().Context(), req.URL, req.Metadata))
}

func (h *ScrapeHandler) scrapeBatch(c echo.Context) error {
	var req ScrapeBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, err := h.Pipeline.IngestBatch(c.Request().Context(), req.URLs, req.Metadata)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (h *ScrapeHandler) stats(c echo.Context) error {
	ctx := c.Request().Context()
	total, err := h.Chunks.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusOK, DomainError{Success: false, Error: orchestrator.KindUpstreamUnavailable + ": " + err.Error()})
	}
	byURL, err := h.Chunks.StatsByURL(ctx, 100)
	if err != nil {
		return c.JSON(http.StatusOK, DomainError{Success: false, Error: orchestrator.KindUpstreamUnavailable + ": " + err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"total_chunks":  total,
		"chunks_by_url": byURL,
	})
}

func (h *ScrapeHandler) addSource(c echo.Context) error {
	var req SourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := scrape.ValidateURL(req.URL); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validateCronSpec(req.CronSpec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.Sources.AddSource(c.Request().Context(), req.URL, req.CronSpec, req.Metadata)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *ScrapeHandler) listSources(c echo.Context) error {
	sources, err := h.Sources.ListSources(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]SourceResponse, len(sources))
	for i, s := range sources {
		out[i] = SourceResponse{
			ID:        s.ID,
			URL:       s.URL,
			CronSpec:  s.CronSpec,
			Metadata:  s.Metadata,
			LastRunAt: s.LastRunAt,
			CreatedAt: s.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sources": out})
}

// SourceResponse is the API view of a recurring scrape source.
type SourceResponse struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	CronSpec  string            `json:"cron_spec"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	LastRunAt *time.Time        `json:"last_run_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func validateCronSpec(spec string) error {
	switch spec {
	case "":
		return errors.New("cron_spec is required")
	case "@daily", "@hourly":
		return nil
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return errors.New("invalid cron_spec: " + err.Error())
	}
	return nil
}

// KnowledgeHandler stores documents directly and exposes the volatile
// keyword index for introspection.
type KnowledgeHandler struct {
	Pipeline Ingestor
	Index    *knowledge.KeywordIndex
	OnSearch func()
}

func (h *KnowledgeHandler) Register(g *echo.Group) {
	g.POST("/knowledge/add", h.add)
	g.GET("/knowledge/search", h.search)
}

func (h *KnowledgeHandler) add(c echo.Context) error {
	var req KnowledgeAddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents are required")
	}
	count, err := h.Pipeline.AddDocuments(c.Request().Context(), req.Documents)
	if err != nil {
		return c.JSON(http.StatusOK, DomainError{Success: false, Error: orchestrator.KindUpstreamUnavailable + ": " + err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "count": count})
}

func (h *KnowledgeHandler) search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k := 10
	if raw := c.QueryParam("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = parsed
	}
	hits, err := h.Index.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.OnSearch != nil {
		h.OnSearch()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query": q,
		"hits":  hits,
		"total": len(hits),
	})
}

// ModelLister is the runtime seam the status handler needs.
type ModelLister interface {
	Models(ctx context.Context) ([]llm.ModelInfo, error)
	Available(ctx context.Context) bool
}

// SystemHandler reports component availability.
type SystemHandler struct {
	Runtime ModelLister
	Chunks  ChunkCounter
	Index   *knowledge.KeywordIndex
	Version string
}

func (h *SystemHandler) Register(e *echo.Echo) {
	e.GET("/system/status", h.status)
	e.GET("/health", h.health)
}

func (h *SystemHandler) status(c echo.Context) error {
	ctx := c.Request().Context()

	llmStatus := map[string]interface{}{"available": false}
	if h.Runtime.Available(ctx) {
		llmStatus["available"] = true
		if models, err := h.Runtime.Models(ctx); err == nil {
			names := make([]string, len(models))
			for i, m := range models {
				names[i] = m.Name
			}
			llmStatus["models"] = names
		}
	}

	kbStatus := map[string]interface{}{"available": false}
	if n, err := h.Chunks.Count(ctx); err == nil {
		kbStatus["available"] = true
		kbStatus["chunks"] = n
	}

	payload := map[string]interface{}{
		"llm":             llmStatus,
		"knowledge_store": kbStatus,
	}
	if h.Index != nil {
		payload["keyword_index"] = map[string]interface{}{"documents": h.Index.Size()}
	}
	return c.JSON(http.StatusOK, payload)
}

func (h *SystemHandler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}
