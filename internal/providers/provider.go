// Package providers defines the common interface and types implemented by all
// LLM provider adapters (OpenAI, Anthropic, Gemini, Groq, OpenRouter).
//
// Each adapter lives in its own sub-package and implements the Provider
// interface. Adapters are constructed without credentials — the API key is
// resolved per request from the tenant's configuration and passed in Request.
package providers

import (
	"context"
	"time"
)

type (
	// Message is a single turn in a conversation (role + text content).
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// Request — normalized completion request. APIKey and Model are always
	// set by the caller; adapters must not fall back to ambient credentials.
	Request struct {
		APIKey      string
		Model       string
		Messages    []Message
		Temperature float64
		MaxTokens   int
	}

	// Response — normalized completion response.
	Response struct {
		Content          string
		PromptTokens     int
		CompletionTokens int
	}
)

// Provider — LLM provider adapter interface.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
	// HealthCheck issues one minimal call against the vendor API with the
	// given key. Used by the config store's connection test.
	HealthCheck(ctx context.Context, apiKey string) error
}

// Supported provider names. These are the values stored in tenant
// configuration rows and fallback priority lists.
const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Gemini     = "gemini"
	Groq       = "groq"
	OpenRouter = "openrouter"
)

// DefaultModels maps each provider to the model used when a tenant's
// configuration does not name one.
var DefaultModels = map[string]string{
	OpenAI:     "gpt-4o-mini",
	Anthropic:  "claude-3-5-sonnet-20241022",
	Gemini:     "gemini-1.5-flash",
	Groq:       "llama-3.3-70b-versatile",
	OpenRouter: "anthropic/claude-3.5-sonnet",
}

// DefaultModel returns the default model id for name, or "" for an unknown
// provider.
func DefaultModel(name string) string {
	return DefaultModels[name]
}

// Names returns the supported provider names in a stable order.
func Names() []string {
	return []string{OpenAI, Anthropic, Gemini, Groq, OpenRouter}
}

// AttemptTimeout is the default per-provider request timeout.
const AttemptTimeout = 30 * time.Second

// StatusCoder is implemented by provider errors that carry an upstream HTTP
// status code.
type StatusCoder interface {
	HTTPStatus() int
}
