package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/armansaberi/prism/config"
	"github.com/armansaberi/prism/internal/dispatch"
	"github.com/armansaberi/prism/internal/gate"
	"github.com/armansaberi/prism/internal/ingest"
	"github.com/armansaberi/prism/internal/knowledge"
	"github.com/armansaberi/prism/internal/llm"
	"github.com/armansaberi/prism/internal/orchestrator"
	"github.com/armansaberi/prism/internal/ratelimit"
	"github.com/armansaberi/prism/internal/router"
	"github.com/armansaberi/prism/internal/scrape"
	"github.com/armansaberi/prism/internal/store"
	"github.com/armansaberi/prism/internal/telemetry"
)

const Version = "0.1.0"

// Run wires the pipeline and serves until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := newEcho()
	ctx := context.Background()

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		log.Printf("migrations: %v (continuing)", err)
	}

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("connecting postgres: %w", err)
	}
	kb, err := knowledge.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("connecting knowledge store: %w", err)
	}
	index, err := knowledge.NewKeywordIndex()
	if err != nil {
		return fmt.Errorf("building keyword index: %w", err)
	}

	// Metrics live on a private registry so tests can build servers
	// without global state collisions.
	var metrics *telemetry.Metrics
	reg := prometheus.NewRegistry()
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics(reg)
		path := cfg.Telemetry.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	// Redis backs the limiter, gate and scheduler lock when configured;
	// everything degrades to in-process stores without it.
	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	var limiter orchestrator.Limiter
	var devices gate.DeviceStore
	if rdb != nil {
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimit)
		devices = gate.NewRedisDeviceStore(rdb)
	} else {
		limiter = ratelimit.NewInMemory(cfg.RateLimit)
		devices = gate.NewInMemoryDeviceStore()
	}

	var onLock func()
	var onFallback func(from, to string)
	var onChunks func(disposition string, n int)
	var onScheduled func(outcome string)
	if metrics != nil {
		onLock = func() { metrics.AccountsLocked.Inc() }
		onFallback = func(from, to string) { metrics.Fallbacks.WithLabelValues(from, to).Inc() }
		onChunks = func(disposition string, n int) {
			metrics.IngestedChunks.WithLabelValues(disposition).Add(float64(n))
		}
		onScheduled = func(outcome string) { metrics.ScheduledScrapes.WithLabelValues(outcome).Inc() }
	}

	runtime := llm.New(cfg.LLM)
	embedder := runtime.BoundEmbedder(cfg.LLM.Models.Embedding)
	accessGate := gate.New(cfg.Gate, devices, st, onLock)
	classifier := router.New(cfg.Router)
	dispatcher := dispatch.New(cfg.LLM, runtime, onFallback)
	browser := scrape.NewBrowser(cfg.Scrape)
	processor := ingest.NewProcessor(cfg.Chunk)
	pipeline := ingest.NewPipeline(cfg.Scrape, browser, processor, embedder, kb, index, onChunks)
	orch := orchestrator.New(accessGate, limiter, classifier, embedder, kb, dispatcher, cfg.Knowledge, metrics)
	var onSearch func()
	if metrics != nil {
		accessGate.SetOnRegister(func() { metrics.DevicesBound.Inc() })
		onSearch = func() { metrics.KeywordSearches.Inc() }
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	auth := &AuthHandler{
		Store:       st,
		Secret:      []byte(secret),
		DefaultPlan: cfg.Gate.DefaultPlan,
		Plans:       cfg.Gate.PlanDevices,
	}
	auth.Register(e.Group("/auth"))

	(&SystemHandler{Runtime: runtime, Chunks: kb, Index: index, Version: Version}).Register(e)

	protected := e.Group("", authMiddleware([]byte(secret)))
	(&GenerateHandler{Pipeline: orch}).Register(protected)
	(&RouteHandler{Router: classifier}).Register(protected)
	(&ScrapeHandler{Pipeline: pipeline, Chunks: kb, Sources: st}).Register(protected)
	(&KnowledgeHandler{Pipeline: pipeline, Index: index, OnSearch: onSearch}).Register(protected)

	sched := &Scheduler{Store: st, Pipeline: pipeline, Rdb: rdb, Stop: make(chan struct{}), OnRun: onScheduled}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization", fingerprintHeader},
		AllowCredentials: true,
	}))
	return e
}
