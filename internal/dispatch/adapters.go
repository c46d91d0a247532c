package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/armansaberi/prism/internal/llm"
	"github.com/armansaberi/prism/internal/router"
)

// Passage is one retrieved context entry, ranked by relevance.
type Passage struct {
	Text  string
	Score float64
}

// Runtime is the slice of the model-runtime client adapters use.
// *llm.Client satisfies it.
type Runtime interface {
	Generate(ctx context.Context, p llm.GenerateParams) (string, error)
	Available(ctx context.Context) bool
}

// Adapter is one model capability. All adapters accept the same
// (prompt, context, parameters) call and differ only in prompt
// assembly and the model they target.
type Adapter interface {
	Kind() router.Intent
	Model() string
	Available(ctx context.Context) bool
	Generate(ctx context.Context, prompt string, passages []Passage, params router.Params) (string, error)
}

func formatContext(passages []Passage) string {
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "%d. (relevance: %.2f) %s\n", i+1, p.Score, strings.TrimSpace(p.Text))
	}
	return b.String()
}

// textAdapter answers open prompts, optionally conditioned on ranked
// context passages.
type textAdapter struct {
	rt    Runtime
	model string
}

func (a *textAdapter) Kind() router.Intent                { return router.IntentText }
func (a *textAdapter) Model() string                      { return a.model }
func (a *textAdapter) Available(ctx context.Context) bool { return a.rt.Available(ctx) }

func (a *textAdapter) Generate(ctx context.Context, prompt string, passages []Passage, params router.Params) (string, error) {
	full := prompt
	if len(passages) > 0 {
		full = fmt.Sprintf("Use the following context to answer the question.\n\nContext:\n%s\nQuestion: %s\n\nAnswer:", formatContext(passages), prompt)
	}
	return a.rt.Generate(ctx, llm.GenerateParams{
		Model:       a.model,
		Prompt:      full,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
	})
}

// codeAdapter targets the code model with a low-randomness preset and
// an expert-programmer instruction.
type codeAdapter struct {
	rt    Runtime
	model string
}

func (a *codeAdapter) Kind() router.Intent                { return router.IntentCode }
func (a *codeAdapter) Model() string                      { return a.model }
func (a *codeAdapter) Available(ctx context.Context) bool { return a.rt.Available(ctx) }

func (a *codeAdapter) Generate(ctx context.Context, prompt string, passages []Passage, params router.Params) (string, error) {
	system := "You are an expert programmer. Produce correct, idiomatic code and explain briefly. Use the reference material when relevant."
	full := prompt
	if len(passages) > 0 {
		full = fmt.Sprintf("Reference:\n%s\nTask: %s", formatContext(passages), prompt)
	}
	return a.rt.Generate(ctx, llm.GenerateParams{
		Model:       a.model,
		Prompt:      full,
		System:      system,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
	})
}

// imageAdapter forwards only the prompt and diffusion parameters;
// retrieved context never conditions image generation.
type imageAdapter struct {
	rt    Runtime
	model string
}

func (a *imageAdapter) Kind() router.Intent                { return router.IntentImage }
func (a *imageAdapter) Model() string                      { return a.model }
func (a *imageAdapter) Available(ctx context.Context) bool { return a.rt.Available(ctx) }

func (a *imageAdapter) Generate(ctx context.Context, prompt string, _ []Passage, params router.Params) (string, error) {
	return a.rt.Generate(ctx, llm.GenerateParams{
		Model:         a.model,
		Prompt:        prompt,
		Steps:         params.Steps,
		GuidanceScale: params.GuidanceScale,
		Width:         params.Width,
		Height:        params.Height,
	})
}
