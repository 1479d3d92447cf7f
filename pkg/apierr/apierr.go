// Package apierr provides structured API error types and HTTP status mapping
// for orchestrator responses.
package apierr

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-orchestrator/internal/engine"
	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
	"github.com/nulpointcorp/ai-orchestrator/internal/ratelimit"
)

// ErrorType constants.
const (
	TypeProviderError  = "provider_error"
	TypeRateLimitError = "rate_limit_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeConfigError    = "configuration_error"
	TypeServerError    = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded     = "rate_limit_exceeded"
	CodeProviderNotConfigured = "provider_not_configured"
	CodeUnknownProvider       = "unknown_provider"
	CodeProviderError         = "provider_error"
	CodeProvidersExhausted    = "providers_exhausted"
	CodeRequestTimeout        = "request_timeout"
	CodeInvalidRequest        = "invalid_request"
	CodeInternalError         = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteEngineError maps a generation error to an HTTP response.
//
//	Rate limit ceiling      → 429 + Retry-After: 60
//	Provider not configured → 422
//	Unknown provider        → 400
//	Timeout                 → 504
//	Provider / exhausted    → 502
//	Anything else           → 500
func WriteEngineError(ctx *fasthttp.RequestCtx, err error) {
	var (
		limitErr   *ratelimit.LimitError
		ncErr      *engine.NotConfiguredError
		unknownErr *engine.UnknownProviderError
		exErr      *engine.ExhaustedError
		callErr    *engine.ProviderCallError
	)

	switch {
	case errors.As(err, &limitErr):
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, limitErr.Error(), TypeRateLimitError, CodeRateLimitExceeded)

	case errors.As(err, &ncErr):
		Write(ctx, fasthttp.StatusUnprocessableEntity, ncErr.Error(), TypeConfigError, CodeProviderNotConfigured)

	case errors.As(err, &unknownErr):
		Write(ctx, fasthttp.StatusBadRequest, unknownErr.Error(), TypeInvalidRequest, CodeUnknownProvider)

	case errors.Is(err, context.DeadlineExceeded):
		Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)

	case errors.As(err, &exErr):
		Write(ctx, fasthttp.StatusBadGateway, exErr.Error(), TypeProviderError, CodeProvidersExhausted)

	case errors.As(err, &callErr):
		writeProviderCallError(ctx, callErr)

	default:
		Write(ctx, fasthttp.StatusInternalServerError, "internal error", TypeServerError, CodeInternalError)
	}
}

// writeProviderCallError forwards the upstream status class when the provider
// error carries one.
func writeProviderCallError(ctx *fasthttp.RequestCtx, callErr *engine.ProviderCallError) {
	var sc providers.StatusCoder
	if errors.As(callErr.Err, &sc) && sc.HTTPStatus() == fasthttp.StatusTooManyRequests {
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, callErr.Error(), TypeRateLimitError, CodeRateLimitExceeded)
		return
	}
	Write(ctx, fasthttp.StatusBadGateway, callErr.Error(), TypeProviderError, CodeProviderError)
}

// WriteInvalidRequest writes a 400 validation error.
func WriteInvalidRequest(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadRequest, msg, TypeInvalidRequest, CodeInvalidRequest)
}
