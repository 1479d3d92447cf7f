// Package gemini implements providers.Provider for Google Gemini using the
// official GenAI SDK.
//
// Gemini has no native chat-message array in this integration: the message
// list is flattened into a single "role: content" text blob before dispatch,
// and token counts are estimated at ceil(len/4) instead of being read from
// the API. Both behaviours are approximations carried over from the platform
// this layer replaced; the estimate is visibly documented, not exact usage.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "gemini"
)

// Provider is a key-less Gemini adapter. A genai client is built per request
// around the tenant's API key.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	base       string
	apiVersion string
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates a new Gemini Provider.
func New(opts ...Option) *Provider {
	p := &Provider{baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}

	p.httpClient = &http.Client{Timeout: providers.AttemptTimeout}
	p.base, p.apiVersion = splitBaseURLAndVersion(p.baseURL)

	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context, apiKey string) error {
	client, err := p.clientForKey(ctx, apiKey)
	if err != nil {
		return err
	}
	if _, err := client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return fmt.Errorf("gemini: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	client, err := p.clientForKey(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = providers.DefaultModel(providerName)
	}

	prompt := FlattenMessages(req.Messages)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var cfg *genai.GenerateContentConfig
	if req.Temperature > 0 || req.MaxTokens > 0 {
		cfg = &genai.GenerateContentConfig{}
		if req.Temperature > 0 {
			cfg.Temperature = genai.Ptr[float32](float32(req.Temperature))
		}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(req.MaxTokens)
		}
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, toProviderError(err)
	}

	out := ""
	if resp != nil {
		out = resp.Text()
	}

	return &providers.Response{
		Content:          out,
		PromptTokens:     EstimateTokens(prompt),
		CompletionTokens: EstimateTokens(out),
	}, nil
}

// FlattenMessages joins the conversation into a single prompt string of
// "role: content" lines, the shape this integration sends to Gemini.
func FlattenMessages(msgs []providers.Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// EstimateTokens approximates the token count of text as ceil(len/4).
// This is a heuristic (~4 chars per token), not a real tokenizer count.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func (p *Provider) clientForKey(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: no API key configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  p.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.base, APIVersion: p.apiVersion},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: client: %w", err)
	}
	return client, nil
}

func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}

	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]

	if looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}

	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, apiVersion
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}

// ProviderError is a structured error returned by the Gemini API (SDK wrapper).
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gemini: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Type:       apiErr.Status,
		}
	}
	return err
}
