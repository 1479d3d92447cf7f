// Package anthropic implements providers.Provider for the Anthropic Messages
// API using the official SDK.
//
// Anthropic has no system role in its turn list — system messages are pulled
// out of the conversation and sent through the dedicated system field.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

// Provider is a key-less Anthropic adapter.
type Provider struct {
	baseURL string
	client  anthropicSDK.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates a new Anthropic Provider.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: providers.AttemptTimeout}),
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}

	p.client = anthropicSDK.NewClient(clientOpts...)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context, apiKey string) error {
	opts, err := requestOptions(apiKey)
	if err != nil {
		return err
	}
	_, err = p.client.Models.List(ctx, anthropicSDK.ModelListParams{
		Limit: anthropicSDK.Int(1),
	}, opts...)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	opts, err := requestOptions(req.APIKey)
	if err != nil {
		return nil, err
	}

	params := buildParams(req)

	msg, err := p.client.Messages.New(ctx, params, opts...)
	if err != nil {
		return nil, toProviderError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropicSDK.TextBlock:
			sb.WriteString(v.Text)
		case *anthropicSDK.TextBlock:
			sb.WriteString(v.Text)
		}
	}

	return &providers.Response{
		Content:          sb.String(),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func buildParams(req *providers.Request) anthropicSDK.MessageNewParams {
	var systemPrompt string
	msgs := make([]anthropicSDK.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = providers.DefaultModel(providerName)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}

	if systemPrompt != "" {
		params.System = []anthropicSDK.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropicSDK.Float(req.Temperature)
	}

	return params
}

func toSDKMessage(role, content string) anthropicSDK.MessageParam {
	anthRole := anthropicSDK.MessageParamRoleUser
	if strings.ToLower(role) == "assistant" {
		anthRole = anthropicSDK.MessageParamRoleAssistant
	}

	return anthropicSDK.MessageParam{
		Role: anthRole,
		Content: []anthropicSDK.ContentBlockParamUnion{
			{
				OfText: &anthropicSDK.TextBlockParam{
					Text: content,
				},
			},
		},
	}
}

func requestOptions(apiKey string) ([]option.RequestOption, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}
	return []option.RequestOption{option.WithAPIKey(apiKey)}, nil
}

// ProviderError is a structured error returned by the Anthropic API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apierr *anthropicSDK.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Type:       "anthropic_error",
		}
	}
	return err
}
