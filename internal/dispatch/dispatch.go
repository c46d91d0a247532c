// Package dispatch maps routing decisions to model adapter calls and
// applies the fallback policy when an adapter is unavailable.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/armansaberi/prism/config"
	"github.com/armansaberi/prism/internal/router"
)

// ErrUpstreamUnavailable means both the selected adapter and the text
// fallback could not serve the request.
var ErrUpstreamUnavailable = errors.New("upstream-unavailable")

// Result is one completed generation.
type Result struct {
	Payload      string
	ResponseType string
	Model        string
	Fallback     bool
	FallbackFrom string
}

// Dispatcher selects adapters by routed intent. The text adapter is
// also the fallback target.
type Dispatcher struct {
	adapters   map[router.Intent]Adapter
	onFallback func(from, to string)
}

// New builds the standard adapter set on one runtime. onFallback may be
// nil; it fires when a request is served by the fallback adapter.
func New(cfg config.LLMConfig, rt Runtime, onFallback func(from, to string)) *Dispatcher {
	return NewWithAdapters([]Adapter{
		&textAdapter{rt: rt, model: cfg.Models.Text},
		&codeAdapter{rt: rt, model: cfg.Models.Code},
		&imageAdapter{rt: rt, model: cfg.Models.Image},
	}, onFallback)
}

// NewWithAdapters wires an explicit adapter set; tests use it to
// substitute stub adapters.
func NewWithAdapters(adapters []Adapter, onFallback func(from, to string)) *Dispatcher {
	m := make(map[router.Intent]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Dispatcher{adapters: m, onFallback: onFallback}
}

// Generate serves one routed request. If the selected adapter is
// unavailable or fails, the request falls back to the text adapter and
// the result is flagged; if the text adapter is also unavailable the
// call returns ErrUpstreamUnavailable.
func (d *Dispatcher) Generate(ctx context.Context, decision router.Decision, prompt string, passages []Passage) (Result, error) {
	primary, ok := d.adapters[decision.Intent]
	if !ok {
		primary = d.adapters[router.IntentText]
	}

	if primary.Available(ctx) {
		payload, err := primary.Generate(ctx, prompt, passages, decision.Params)
		if err == nil {
			return Result{
				Payload:      payload,
				ResponseType: string(primary.Kind()),
				Model:        primary.Model(),
			}, nil
		}
		if primary.Kind() == router.IntentText {
			return Result{}, fmt.Errorf("%w: text adapter: %v", ErrUpstreamUnavailable, err)
		}
	} else if primary.Kind() == router.IntentText {
		return Result{}, fmt.Errorf("%w: text adapter unavailable", ErrUpstreamUnavailable)
	}

	fallback := d.adapters[router.IntentText]
	if fallback == nil || !fallback.Available(ctx) {
		return Result{}, fmt.Errorf("%w: %s adapter and text fallback unavailable", ErrUpstreamUnavailable, decision.Intent)
	}
	payload, err := fallback.Generate(ctx, prompt, passages, textFallbackParams(decision.Params))
	if err != nil {
		return Result{}, fmt.Errorf("%w: fallback generation: %v", ErrUpstreamUnavailable, err)
	}
	if d.onFallback != nil {
		d.onFallback(string(primary.Kind()), string(fallback.Kind()))
	}
	return Result{
		Payload:      payload,
		ResponseType: "text",
		Model:        fallback.Model(),
		Fallback:     true,
		FallbackFrom: string(primary.Kind()),
	}, nil
}

// textFallbackParams strips specialized knobs so image presets do not
// leak into a text call.
func textFallbackParams(p router.Params) router.Params {
	if p.Temperature == 0 && p.MaxTokens == 0 {
		return router.Params{Temperature: 0.7, MaxTokens: 2000}
	}
	return router.Params{Temperature: p.Temperature, MaxTokens: p.MaxTokens, TopP: p.TopP}
}
