// Package llm is the HTTP client for the Ollama-compatible model
// runtime: text generation, embeddings and the model catalog.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/armansaberi/prism/config"
)

// Client talks to a single model runtime. All adapters and the
// embedding path share one client so retries and timeouts are uniform.
type Client struct {
	baseURL    string
	maxRetries int
	httpClient *http.Client
}

// New creates a runtime client from configuration.
func New(cfg config.LLMConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// GenerateParams carries one generation call. Zero-valued sampling
// fields are omitted from the request so the runtime's model defaults
// apply.
type GenerateParams struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	TopP        float64

	// Image sampling knobs, used only by the image adapter.
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, p GenerateParams) (string, error) {
	opts := map[string]interface{}{}
	if p.Temperature > 0 {
		opts["temperature"] = p.Temperature
	}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}
	if p.TopP > 0 {
		opts["top_p"] = p.TopP
	}
	if p.Steps > 0 {
		opts["steps"] = p.Steps
	}
	if p.GuidanceScale > 0 {
		opts["guidance_scale"] = p.GuidanceScale
	}
	if p.Width > 0 && p.Height > 0 {
		opts["width"] = p.Width
		opts["height"] = p.Height
	}
	reqBody := generateRequest{
		Model:   p.Model,
		Prompt:  p.Prompt,
		System:  p.System,
		Stream:  false,
		Options: opts,
	}
	var out generateResponse
	if err := c.post(ctx, "/api/generate", reqBody, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	reqBody := map[string]interface{}{
		"model":  model,
		"prompt": text,
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.post(ctx, "/api/embeddings", reqBody, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("runtime returned empty embedding for model %s", model)
	}
	return out.Embedding, nil
}

// EmbedBatch embeds texts one by one. The runtime API is single-input;
// callers that need concurrency fan out above this.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, model, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// ModelInfo describes one model the runtime currently serves.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// Models lists what the runtime serves (/api/tags).
func (c *Client) Models(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runtime returned status: %d", resp.StatusCode)
	}
	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return out.Models, nil
}

// Available reports whether the runtime answers its catalog endpoint.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.Models(ctx)
	return err == nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		lastErr = c.doPost(ctx, path, jsonData, out)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) doPost(ctx context.Context, path string, jsonData []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
