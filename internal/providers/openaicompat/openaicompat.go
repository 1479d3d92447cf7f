// Package openaicompat provides a generic adapter for services that implement
// the OpenAI chat completions API. Groq and OpenRouter are both served by
// this package — only the name and base URL differ.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
)

// Default base URLs for the OpenAI-compatible vendors this layer supports.
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Provider is a configurable OpenAI-compatible adapter.
type Provider struct {
	name    string
	baseURL string
	client  openaiSDK.Client
}

// New creates a new OpenAI-compatible Provider.
//
//   - name    — provider identifier used for routing and logs ("groq", "openrouter").
//   - baseURL — API base URL, e.g. "https://api.groq.com/openai/v1".
//
// The tenant API key is sent as "Authorization: Bearer <key>" per request.
func New(name, baseURL string) *Provider {
	p := &Provider{name: name, baseURL: baseURL}

	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: providers.AttemptTimeout}),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}

	p.client = openaiSDK.NewClient(opts...)
	return p
}

// NewGroq returns an adapter for the Groq API.
func NewGroq() *Provider { return New(providers.Groq, GroqBaseURL) }

// NewOpenRouter returns an adapter for the OpenRouter API.
func NewOpenRouter() *Provider { return New(providers.OpenRouter, OpenRouterBaseURL) }

func (p *Provider) Name() string { return p.name }

func (p *Provider) HealthCheck(ctx context.Context, apiKey string) error {
	opts, err := p.requestOptions(apiKey)
	if err != nil {
		return err
	}
	if _, err := p.client.Models.List(ctx, opts...); err != nil {
		return fmt.Errorf("%s: health check: %w", p.name, p.toProviderError(err))
	}
	return nil
}

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	opts, err := p.requestOptions(req.APIKey)
	if err != nil {
		return nil, err
	}

	params := p.buildParams(req)

	resp, err := p.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, p.toProviderError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &providers.Response{
		Content:          content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (p *Provider) buildParams(req *providers.Request) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	model := req.Model
	if model == "" {
		model = providers.DefaultModel(p.name)
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    model,
	}

	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}

	return params
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	case "user":
		fallthrough
	default:
		return openaiSDK.UserMessage(content)
	}
}

func (p *Provider) requestOptions(apiKey string) ([]option.RequestOption, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: no API key configured", p.name)
	}
	return []option.RequestOption{option.WithAPIKey(apiKey)}, nil
}

// ProviderError is a structured error returned by an OpenAI-compatible API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Provider, e.Message, e.StatusCode)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func (p *Provider) toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			Provider:   p.name,
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
		}
	}
	return err
}
