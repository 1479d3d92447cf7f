package server

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-orchestrator/internal/configstore"
	"github.com/nulpointcorp/ai-orchestrator/internal/engine"
	"github.com/nulpointcorp/ai-orchestrator/internal/fallback"
	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
	"github.com/nulpointcorp/ai-orchestrator/pkg/apierr"
)

type generateRequest struct {
	TenantID    string              `json:"tenant_id"`
	UserID      string              `json:"user_id"`
	Provider    string              `json:"provider"`
	Module      string              `json:"module"`
	Messages    []providers.Message `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

func (r *generateRequest) toOptions() engine.Options {
	return engine.Options{
		TenantID:    r.TenantID,
		UserID:      r.UserID,
		Provider:    r.Provider,
		Module:      r.Module,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

func (s *Server) handleGenerate(ctx *fasthttp.RequestCtx) {
	var req generateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, "malformed JSON body: "+err.Error())
		return
	}

	res, err := s.engine.Generate(ctx, req.toOptions())
	if err != nil {
		apierr.WriteEngineError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, res)
}

func (s *Server) handleGenerateFallback(ctx *fasthttp.RequestCtx) {
	var req generateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, "malformed JSON body: "+err.Error())
		return
	}

	res, err := s.engine.GenerateWithFallback(ctx, req.toOptions())
	if err != nil {
		apierr.WriteEngineError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, res)
}

type configRequest struct {
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	IsActive *bool  `json:"is_active"`
}

type configResponse struct {
	TenantID  string `json:"tenant_id"`
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	IsActive  bool   `json:"is_active"`
	UpdatedAt string `json:"updated_at"`
}

func toConfigResponse(cfg configstore.Config) configResponse {
	return configResponse{
		TenantID:  cfg.TenantID,
		Provider:  cfg.Provider,
		APIKey:    cfg.MaskedKey(),
		Model:     cfg.Model,
		IsActive:  cfg.IsActive,
		UpdatedAt: cfg.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleListConfigs(ctx *fasthttp.RequestCtx) {
	tenant := ctx.UserValue("tenant").(string)

	cfgs, err := s.configs.List(ctx, tenant)
	if err != nil {
		s.log.ErrorContext(ctx, "list configs failed",
			slog.String("tenant_id", tenant),
			slog.String("error", err.Error()),
		)
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to list configurations",
			apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	out := make([]configResponse, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, toConfigResponse(cfg))
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleUpsertConfig(ctx *fasthttp.RequestCtx) {
	tenant := ctx.UserValue("tenant").(string)
	provider := ctx.UserValue("provider").(string)

	if _, ok := s.providers[provider]; !ok {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "unknown provider: "+provider,
			apierr.TypeInvalidRequest, apierr.CodeUnknownProvider)
		return
	}

	var req configRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, "malformed JSON body: "+err.Error())
		return
	}
	if req.APIKey == "" {
		apierr.WriteInvalidRequest(ctx, "api_key must not be empty")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	cfg := configstore.Config{
		TenantID: tenant,
		Provider: provider,
		APIKey:   req.APIKey,
		Model:    req.Model,
		IsActive: active,
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		s.log.ErrorContext(ctx, "upsert config failed",
			slog.String("tenant_id", tenant),
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to save configuration",
			apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	if stored, err := s.configs.Get(ctx, tenant, provider); err == nil {
		cfg = *stored
	}
	writeJSON(ctx, fasthttp.StatusOK, toConfigResponse(cfg))
}

func (s *Server) handleDeleteConfig(ctx *fasthttp.RequestCtx) {
	tenant := ctx.UserValue("tenant").(string)
	provider := ctx.UserValue("provider").(string)

	if err := s.configs.Delete(ctx, tenant, provider); err != nil {
		s.log.ErrorContext(ctx, "delete config failed",
			slog.String("tenant_id", tenant),
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to delete configuration",
			apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleTestConfig(ctx *fasthttp.RequestCtx) {
	tenant := ctx.UserValue("tenant").(string)
	provider := ctx.UserValue("provider").(string)

	cfg, err := s.configs.Get(ctx, tenant, provider)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusOK, configstore.TestResult{
			Success: false,
			Message: "no configuration stored for " + provider,
		})
		return
	}

	result := configstore.TestConnection(ctx, s.providers[provider], *cfg)
	writeJSON(ctx, fasthttp.StatusOK, result)
}

type chainRequest struct {
	PriorityOrder []string `json:"priority_order"`
	Enabled       bool     `json:"enabled"`
}

func (s *Server) handleGetChain(ctx *fasthttp.RequestCtx) {
	tenant := ctx.UserValue("tenant").(string)
	module := ctx.UserValue("module").(string)

	cfg, err := s.chains.Get(ctx, tenant, module)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusNotFound, "no fallback chain for module "+module,
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, cfg)
}

func (s *Server) handleUpsertChain(ctx *fasthttp.RequestCtx) {
	tenant := ctx.UserValue("tenant").(string)
	module := ctx.UserValue("module").(string)

	var req chainRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, "malformed JSON body: "+err.Error())
		return
	}

	cfg := &fallback.Config{
		TenantID:      tenant,
		Module:        module,
		PriorityOrder: req.PriorityOrder,
		Enabled:       req.Enabled,
	}
	if err := s.chains.Set(ctx, cfg); err != nil {
		apierr.WriteInvalidRequest(ctx, err.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, cfg)
}

func (s *Server) handleDeleteChain(ctx *fasthttp.RequestCtx) {
	tenant := ctx.UserValue("tenant").(string)
	module := ctx.UserValue("module").(string)

	if err := s.chains.Delete(ctx, tenant, module); err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to delete fallback chain",
			apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":    "ok",
		"providers": names,
	})
}
