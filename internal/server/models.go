package server

import "github.com/armansaberi/prism/internal/ingest"

// HTTPError is the generic error envelope for transport-level failures.
type HTTPError struct {
	Error string `json:"error"`
}

// DomainError is a pipeline failure delivered inside a 200 envelope so
// clients handle rate limits and auth denials uniformly.
type DomainError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Plan     string `json:"plan,omitempty"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// GenerateRequest is one prompt for the full pipeline.
type GenerateRequest struct {
	Prompt           string            `json:"prompt"`
	Model            string            `json:"model,omitempty"`
	ContextThreshold float64           `json:"context_threshold,omitempty"`
	Metadata         map[string]string `json:"routing_metadata,omitempty"`
}

// RouteRequest asks only for the routing decision.
type RouteRequest struct {
	Query string `json:"query"`
	Model string `json:"model,omitempty"`
}

// ScrapeRequest ingests a single URL.
type ScrapeRequest struct {
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScrapeBatchRequest ingests up to the configured batch limit.
type ScrapeBatchRequest struct {
	URLs     []string          `json:"urls"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SourceRequest registers a recurring scrape source.
type SourceRequest struct {
	URL      string            `json:"url"`
	CronSpec string            `json:"cron_spec"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KnowledgeAddRequest stores pre-fetched documents directly.
type KnowledgeAddRequest struct {
	Documents []ingest.Document `json:"documents"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}
