// Package server exposes the orchestrator's HTTP API.
//
// Routes:
//
//	POST   /v1/generate                                     one-provider generation
//	POST   /v1/generate/fallback                            chain generation
//	GET    /v1/tenants/{tenant}/providers                   list configs (masked keys)
//	PUT    /v1/tenants/{tenant}/providers/{provider}        upsert config
//	DELETE /v1/tenants/{tenant}/providers/{provider}        delete config
//	POST   /v1/tenants/{tenant}/providers/{provider}/test   connectivity test
//	GET    /v1/tenants/{tenant}/fallback/{module}           read chain
//	PUT    /v1/tenants/{tenant}/fallback/{module}           upsert chain
//	DELETE /v1/tenants/{tenant}/fallback/{module}           delete chain
//	GET    /health                                          liveness
//	GET    /metrics                                         Prometheus scrape
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-orchestrator/internal/configstore"
	"github.com/nulpointcorp/ai-orchestrator/internal/engine"
	"github.com/nulpointcorp/ai-orchestrator/internal/fallback"
	"github.com/nulpointcorp/ai-orchestrator/internal/metrics"
	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
)

// Deps wires the server's collaborators. Engine, Configs, and Chains are
// required.
type Deps struct {
	Engine    *engine.Engine
	Configs   configstore.Store
	Chains    fallback.Store
	Providers map[string]providers.Provider
	Metrics   *metrics.Registry
	Log       *slog.Logger

	CORSOrigins []string
}

type Server struct {
	engine    *engine.Engine
	configs   configstore.Store
	chains    fallback.Store
	providers map[string]providers.Provider
	metrics   *metrics.Registry
	log       *slog.Logger

	corsOrigins []string
	srv         *fasthttp.Server
}

func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if deps.Configs == nil {
		return nil, fmt.Errorf("server: config store must not be nil")
	}
	if deps.Chains == nil {
		return nil, fmt.Errorf("server: fallback store must not be nil")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	return &Server{
		engine:      deps.Engine,
		configs:     deps.Configs,
		chains:      deps.Chains,
		providers:   deps.Providers,
		metrics:     deps.Metrics,
		log:         deps.Log,
		corsOrigins: deps.CORSOrigins,
	}, nil
}

// Handler builds the routed handler with the full middleware chain. Exposed
// for in-process tests.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.SaveMatchedRoutePath = true

	r.POST("/v1/generate", s.handleGenerate)
	r.POST("/v1/generate/fallback", s.handleGenerateFallback)

	r.GET("/v1/tenants/{tenant}/providers", s.handleListConfigs)
	r.PUT("/v1/tenants/{tenant}/providers/{provider}", s.handleUpsertConfig)
	r.DELETE("/v1/tenants/{tenant}/providers/{provider}", s.handleDeleteConfig)
	r.POST("/v1/tenants/{tenant}/providers/{provider}/test", s.handleTestConfig)

	r.GET("/v1/tenants/{tenant}/fallback/{module}", s.handleGetChain)
	r.PUT("/v1/tenants/{tenant}/fallback/{module}", s.handleUpsertChain)
	r.DELETE("/v1/tenants/{tenant}/fallback/{module}", s.handleDeleteChain)

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		s.httpMetrics,
		corsHandler(s.corsOrigins),
		securityHeaders,
	)
}

// Start serves on addr (e.g. ":8080") and blocks until Shutdown or a listen
// error.
func (s *Server) Start(addr string) error {
	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.ShutdownWithContext(ctx)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
