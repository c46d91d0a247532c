// Package orchestrator runs the request pipeline as an explicit state
// machine: gate → rate-limit → route → retrieve → generate → respond.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/armansaberi/prism/config"
	"github.com/armansaberi/prism/internal/dispatch"
	"github.com/armansaberi/prism/internal/gate"
	"github.com/armansaberi/prism/internal/knowledge"
	"github.com/armansaberi/prism/internal/router"
	"github.com/armansaberi/prism/internal/telemetry"
)

// Stage names the pipeline states, in order. Every transition is
// synchronous; error is terminal from any state.
type Stage string

const (
	StageReceived    Stage = "received"
	StageGated       Stage = "gated"
	StageRateChecked Stage = "rate_checked"
	StageRouted      Stage = "routed"
	StageRetrieved   Stage = "retrieved"
	StageGenerated   Stage = "generated"
	StageResponded   Stage = "responded"
)

// Error kinds, the typed strings surfaced in failure envelopes.
const (
	KindAuthDenied          = "auth-denied"
	KindRateLimited         = "rate-limited"
	KindUpstreamUnavailable = "upstream-unavailable"
	KindValidation          = "validation"
)

// PipelineError is a terminal pipeline failure: which stage failed and
// the typed reason the caller sees.
type PipelineError struct {
	Kind    string
	Stage   Stage
	Message string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
}

// Typed returns the wire form of the error, e.g.
// "auth-denied: unregistered-device".
func (e *PipelineError) Typed() string {
	if e.Message == "" {
		return e.Kind
	}
	if e.Kind == KindRateLimited {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

// Request is one prompt entering the pipeline.
type Request struct {
	AccountID        string
	Fingerprint      string
	Prompt           string
	Model            string
	ContextThreshold float64
	Metadata         map[string]string
}

// ContextEntry is one retrieved passage, as returned to the caller.
type ContextEntry struct {
	Text  string  `json:"text"`
	URL   string  `json:"url,omitempty"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score"`
}

// Response is the assembled pipeline output.
type Response struct {
	Query        string                 `json:"query"`
	Context      []ContextEntry         `json:"context"`
	Payload      string                 `json:"response"`
	ResponseType string                 `json:"response_type"`
	Routing      router.Decision        `json:"routing_info"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// Collaborator seams, satisfied by the concrete gate, limiter, router,
// llm embedder, knowledge store and dispatcher. Injected so tests run
// the state machine against isolated fakes.
type (
	AccessGate interface {
		Validate(ctx context.Context, accountID, fingerprint string) error
	}
	Limiter interface {
		Allow(ctx context.Context, key string) (bool, error)
	}
	Classifier interface {
		Route(query, override string) router.Decision
	}
	QueryEmbedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}
	Searcher interface {
		Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]knowledge.SearchResult, error)
	}
	Generator interface {
		Generate(ctx context.Context, decision router.Decision, prompt string, passages []dispatch.Passage) (dispatch.Result, error)
	}
)

// Orchestrator coordinates one request through the pipeline.
type Orchestrator struct {
	gate       AccessGate
	limiter    Limiter
	classifier Classifier
	embedder   QueryEmbedder
	searcher   Searcher
	generator  Generator
	knowledge  config.KnowledgeConfig
	metrics    *telemetry.Metrics
	logger     *log.Logger
}

// New wires the pipeline. metrics may be nil.
func New(g AccessGate, l Limiter, c Classifier, e QueryEmbedder, s Searcher, gen Generator, kcfg config.KnowledgeConfig, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		gate:       g,
		limiter:    l,
		classifier: c,
		embedder:   e,
		searcher:   s,
		generator:  gen,
		knowledge:  kcfg,
		metrics:    metrics,
		logger:     log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// Handle runs the state machine. It returns either a complete response
// or a terminal PipelineError; it never panics across a stage boundary.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, *PipelineError) {
	started := time.Now()

	if perr := o.validate(req); perr != nil {
		o.fail(perr)
		return Response{}, perr
	}

	// received → gated
	if err := o.gate.Validate(ctx, req.AccountID, req.Fingerprint); err != nil {
		perr := &PipelineError{Kind: KindAuthDenied, Stage: StageGated, Message: gateReason(err)}
		o.fail(perr)
		return Response{}, perr
	}

	// gated → rate_checked
	allowed, err := o.limiter.Allow(ctx, req.AccountID)
	if err != nil {
		perr := &PipelineError{Kind: KindUpstreamUnavailable, Stage: StageRateChecked, Message: err.Error()}
		o.fail(perr)
		return Response{}, perr
	}
	if !allowed {
		if o.metrics != nil {
			o.metrics.RateLimited.Inc()
		}
		perr := &PipelineError{Kind: KindRateLimited, Stage: StageRateChecked, Message: "request rate above ceiling"}
		o.fail(perr)
		return Response{}, perr
	}

	// rate_checked → routed
	decision := o.classifier.Route(req.Prompt, req.Model)

	// routed → retrieved. Retrieval failure degrades instead of
	// aborting: generation proceeds with an empty context set.
	entries, degraded := o.retrieve(ctx, req)

	// retrieved → generated
	passages := make([]dispatch.Passage, len(entries))
	for i, e := range entries {
		passages[i] = dispatch.Passage{Text: e.Text, Score: e.Score}
	}
	result, err := o.generator.Generate(ctx, decision, req.Prompt, passages)
	if err != nil {
		perr := &PipelineError{Kind: KindUpstreamUnavailable, Stage: StageGenerated, Message: strings.TrimPrefix(err.Error(), KindUpstreamUnavailable+": ")}
		o.fail(perr)
		return Response{}, perr
	}

	// generated → responded
	meta := map[string]interface{}{
		"model":         result.Model,
		"fallback":      result.Fallback,
		"degraded":      degraded,
		"context_count": len(entries),
	}
	if result.Fallback {
		meta["fallback_from"] = result.FallbackFrom
	}
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(string(decision.Intent), "ok").Inc()
		o.metrics.RequestDuration.WithLabelValues(string(decision.Intent)).Observe(time.Since(started).Seconds())
		o.metrics.RetrievedPerHit.Observe(float64(len(entries)))
	}
	return Response{
		Query:        req.Prompt,
		Context:      entries,
		Payload:      result.Payload,
		ResponseType: result.ResponseType,
		Routing:      decision,
		Metadata:     meta,
	}, nil
}

func (o *Orchestrator) validate(req Request) *PipelineError {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return &PipelineError{Kind: KindValidation, Stage: StageReceived, Message: "prompt is required"}
	case strings.TrimSpace(req.AccountID) == "":
		return &PipelineError{Kind: KindValidation, Stage: StageReceived, Message: "account id is required"}
	case strings.TrimSpace(req.Fingerprint) == "":
		return &PipelineError{Kind: KindValidation, Stage: StageReceived, Message: "device fingerprint is required"}
	}
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, req Request) ([]ContextEntry, bool) {
	threshold := req.ContextThreshold
	if threshold <= 0 {
		threshold = o.knowledge.ScoreThreshold
	}
	vector, err := o.embedder.Embed(ctx, req.Prompt)
	if err != nil {
		o.logger.Printf("query embedding failed, continuing without context: %v", err)
		return nil, true
	}
	results, err := o.searcher.Search(ctx, vector, o.knowledge.TopK, threshold)
	if err != nil {
		o.logger.Printf("retrieval failed, continuing without context: %v", err)
		return nil, true
	}
	entries := make([]ContextEntry, len(results))
	for i, r := range results {
		entries[i] = ContextEntry{Text: r.Text, URL: r.URL, Title: r.Title, Score: r.Score}
	}
	return entries, false
}

func (o *Orchestrator) fail(perr *PipelineError) {
	if o.metrics != nil {
		o.metrics.StageFailures.WithLabelValues(string(perr.Stage), perr.Kind).Inc()
	}
	o.logger.Printf("pipeline terminated: %v", perr)
}

func gateReason(err error) string {
	switch {
	case errors.Is(err, gate.ErrUnregisteredDevice):
		return gate.ErrUnregisteredDevice.Error()
	case errors.Is(err, gate.ErrMultiDeviceAbuse):
		return gate.ErrMultiDeviceAbuse.Error()
	case errors.Is(err, gate.ErrAccountLocked):
		return gate.ErrAccountLocked.Error()
	default:
		return err.Error()
	}
}
