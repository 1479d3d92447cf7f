// Package engine orchestrates a single generation request across the cache,
// tenant configuration, rate limiter, provider adapters, pricing table, and
// usage recorder.
//
// Generate runs one provider. GenerateWithFallback walks the tenant's
// provider chain in priority order until one attempt succeeds.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nulpointcorp/ai-orchestrator/internal/cache"
	"github.com/nulpointcorp/ai-orchestrator/internal/configstore"
	"github.com/nulpointcorp/ai-orchestrator/internal/fallback"
	"github.com/nulpointcorp/ai-orchestrator/internal/metrics"
	"github.com/nulpointcorp/ai-orchestrator/internal/pricing"
	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
	"github.com/nulpointcorp/ai-orchestrator/internal/ratelimit"
	"github.com/nulpointcorp/ai-orchestrator/internal/usagelog"
)

// ChainTimeout bounds one full fallback chain, across all attempts.
const ChainTimeout = 2 * time.Minute

// Options describes one generation request.
type Options struct {
	TenantID    string
	UserID      string
	Provider    string
	Module      string
	Messages    []providers.Message
	Temperature float64
	MaxTokens   int
}

// Result is one successful generation.
type Result struct {
	Content          string  `json:"content"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Cached           bool    `json:"cached"`
	LatencyMs        int64   `json:"latency_ms"`
}

// Deps wires the engine's collaborators. Providers, Configs, Cache, Limiter,
// and Recorder are required; Chains, Metrics, and Log are optional.
type Deps struct {
	Providers map[string]providers.Provider
	Configs   configstore.Store
	Cache     cache.Cache
	Limiter   ratelimit.Limiter
	Recorder  *usagelog.Recorder
	Chains    fallback.Store
	Metrics   *metrics.Registry
	Log       *slog.Logger

	// AttemptTimeout overrides the per-provider timeout. Zero means
	// providers.AttemptTimeout.
	AttemptTimeout time.Duration
}

type Engine struct {
	providers      map[string]providers.Provider
	configs        configstore.Store
	cache          cache.Cache
	limiter        ratelimit.Limiter
	recorder       *usagelog.Recorder
	chains         fallback.Store
	metrics        *metrics.Registry
	log            *slog.Logger
	attemptTimeout time.Duration
}

func New(deps Deps) (*Engine, error) {
	if len(deps.Providers) == 0 {
		return nil, fmt.Errorf("engine: providers must not be empty")
	}
	if deps.Configs == nil {
		return nil, fmt.Errorf("engine: config store must not be nil")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("engine: cache must not be nil")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("engine: limiter must not be nil")
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("engine: recorder must not be nil")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.AttemptTimeout <= 0 {
		deps.AttemptTimeout = providers.AttemptTimeout
	}

	return &Engine{
		providers:      deps.Providers,
		configs:        deps.Configs,
		cache:          deps.Cache,
		limiter:        deps.Limiter,
		recorder:       deps.Recorder,
		chains:         deps.Chains,
		metrics:        deps.Metrics,
		log:            deps.Log,
		attemptTimeout: deps.AttemptTimeout,
	}, nil
}

// Generate runs one generation against the provider named in opts.
//
// Every failure past the cache lookup is recorded in the usage log before
// the error is returned: provider attempts with their latency and token
// counts, and pre-dispatch rejections (missing or inactive configuration,
// rate limit) with zero tokens and cost.
func (e *Engine) Generate(ctx context.Context, opts Options) (*Result, error) {
	if err := validate(&opts); err != nil {
		return nil, err
	}

	prov, ok := e.providers[opts.Provider]
	if !ok {
		return nil, &UnknownProviderError{Provider: opts.Provider}
	}

	promptHash := cache.PromptHash(opts.Messages)

	if entry, hit := e.cache.Lookup(ctx, opts.TenantID, opts.Provider, promptHash); hit {
		e.observeCacheHit(opts, entry)
		return &Result{
			Content:          entry.Response,
			Provider:         opts.Provider,
			Model:            entry.Model,
			CompletionTokens: entry.TokensUsed,
			Cached:           true,
		}, nil
	}
	if e.metrics != nil {
		e.metrics.CacheGetMiss()
	}

	cfg, err := e.configs.Get(ctx, opts.TenantID, opts.Provider)
	if err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			ncErr := &NotConfiguredError{TenantID: opts.TenantID, Provider: opts.Provider}
			e.recordRejection(opts, "", ncErr)
			return nil, ncErr
		}
		err = fmt.Errorf("engine: resolve config: %w", err)
		e.recordRejection(opts, "", err)
		return nil, err
	}
	if !cfg.IsActive {
		ncErr := &NotConfiguredError{TenantID: opts.TenantID, Provider: opts.Provider}
		e.recordRejection(opts, "", ncErr)
		return nil, ncErr
	}

	model := cfg.Model
	if model == "" {
		model = providers.DefaultModel(opts.Provider)
	}

	if err := e.limiter.Check(ctx, opts.TenantID); err != nil {
		if e.metrics != nil {
			e.metrics.RecordRateLimit("denied")
		}
		e.recordRejection(opts, model, err)
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordRateLimit("allowed")
	}

	req := &providers.Request{
		APIKey:      cfg.APIKey,
		Model:       model,
		Messages:    opts.Messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := prov.Complete(attemptCtx, req)
	latency := time.Since(start)

	if err != nil {
		callErr := &ProviderCallError{Provider: opts.Provider, Err: err}
		e.recordAttempt(opts, model, nil, 0, latency, callErr)
		return nil, callErr
	}

	cost := pricing.Cost(opts.Provider, model, resp.PromptTokens, resp.CompletionTokens)

	if err := e.cache.Write(ctx, opts.TenantID, opts.Provider, promptHash,
		promptJSON(opts.Messages), model, resp.Content, resp.PromptTokens+resp.CompletionTokens); err != nil {
		if e.metrics != nil {
			e.metrics.CacheSetError()
		}
		e.log.WarnContext(ctx, "cache write failed",
			slog.String("tenant_id", opts.TenantID),
			slog.String("provider", opts.Provider),
			slog.String("error", err.Error()),
		)
	} else if e.metrics != nil {
		e.metrics.CacheSetOK()
	}

	e.recordAttempt(opts, model, resp, cost, latency, nil)

	if err := e.limiter.Update(ctx, opts.TenantID, resp.PromptTokens+resp.CompletionTokens, cost); err != nil {
		e.log.WarnContext(ctx, "rate limit update failed",
			slog.String("tenant_id", opts.TenantID),
			slog.String("error", err.Error()),
		)
	}

	return &Result{
		Content:          resp.Content,
		Provider:         opts.Provider,
		Model:            model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CostUSD:          cost,
		Cached:           false,
		LatencyMs:        latency.Milliseconds(),
	}, nil
}

// GenerateWithFallback walks the tenant's provider chain for opts.Module in
// priority order. Any attempt error advances to the next provider; the first
// success wins. When no chain is configured or the chain is disabled, the
// request runs against opts.Provider alone.
func (e *Engine) GenerateWithFallback(ctx context.Context, opts Options) (*Result, error) {
	if err := validate(&opts); err != nil {
		return nil, err
	}

	chain := e.resolveChain(ctx, opts)

	ctx, cancel := context.WithTimeout(ctx, ChainTimeout)
	defer cancel()

	var lastErr error
	attempted := make([]string, 0, len(chain))

	for i, name := range chain {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attemptOpts := opts
		attemptOpts.Provider = name

		res, err := e.Generate(ctx, attemptOpts)
		if err == nil {
			if i > 0 {
				if e.metrics != nil {
					e.metrics.RecordFallback(chain[i-1], name)
				}
				e.log.InfoContext(ctx, "fallback succeeded",
					slog.String("tenant_id", opts.TenantID),
					slog.String("primary", chain[0]),
					slog.String("served_by", name),
				)
			}
			return res, nil
		}

		attempted = append(attempted, name)
		lastErr = err
		e.log.WarnContext(ctx, "provider attempt failed",
			slog.String("tenant_id", opts.TenantID),
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
	}

	if e.metrics != nil {
		e.metrics.RecordFallbackExhausted(chain[0])
	}
	return nil, &ExhaustedError{TenantID: opts.TenantID, Attempted: attempted, LastErr: lastErr}
}

// resolveChain returns the provider order for this request. Unknown providers
// and duplicates are dropped; an empty outcome falls back to opts.Provider.
func (e *Engine) resolveChain(ctx context.Context, opts Options) []string {
	if e.chains == nil {
		return []string{opts.Provider}
	}

	cfg, err := e.chains.Get(ctx, opts.TenantID, opts.Module)
	if err != nil {
		if !errors.Is(err, fallback.ErrNotFound) {
			e.log.WarnContext(ctx, "fallback chain lookup failed",
				slog.String("tenant_id", opts.TenantID),
				slog.String("module", opts.Module),
				slog.String("error", err.Error()),
			)
		}
		return []string{opts.Provider}
	}
	if !cfg.Enabled {
		return []string{opts.Provider}
	}

	seen := make(map[string]struct{}, len(cfg.PriorityOrder))
	chain := make([]string, 0, len(cfg.PriorityOrder))
	for _, name := range cfg.PriorityOrder {
		if _, dup := seen[name]; dup {
			continue
		}
		if _, ok := e.providers[name]; !ok {
			continue
		}
		seen[name] = struct{}{}
		chain = append(chain, name)
	}
	if len(chain) == 0 {
		return []string{opts.Provider}
	}
	return chain
}

func (e *Engine) observeCacheHit(opts Options, entry *cache.Entry) {
	if e.metrics != nil {
		e.metrics.CacheGetHit()
		e.metrics.ObserveGeneration(opts.Provider, true, true, 0)
		e.metrics.AddTokens(opts.Provider, 0, entry.TokensUsed, true)
	}
	e.recorder.Log(usagelog.Record{
		TenantID:         opts.TenantID,
		UserID:           opts.UserID,
		Provider:         opts.Provider,
		Model:            entry.Model,
		CompletionTokens: entry.TokensUsed,
		CostUSD:          0,
		Module:           opts.Module,
		Success:          true,
		Cached:           true,
		Prompt:           promptJSON(opts.Messages),
	})
}

// recordRejection logs a usage/audit pair for a request denied before any
// provider work. Token and cost fields stay zero.
func (e *Engine) recordRejection(opts Options, model string, rejErr error) {
	e.recorder.Log(usagelog.Record{
		TenantID:     opts.TenantID,
		UserID:       opts.UserID,
		Provider:     opts.Provider,
		Model:        model,
		Module:       opts.Module,
		Success:      false,
		ErrorMessage: rejErr.Error(),
		Prompt:       promptJSON(opts.Messages),
	})
}

// recordAttempt emits usage, audit, and metrics for one provider attempt.
func (e *Engine) recordAttempt(opts Options, model string, resp *providers.Response, cost float64, latency time.Duration, attemptErr error) {
	rec := usagelog.Record{
		TenantID:  opts.TenantID,
		UserID:    opts.UserID,
		Provider:  opts.Provider,
		Model:     model,
		CostUSD:   cost,
		LatencyMs: latency.Milliseconds(),
		Module:    opts.Module,
		Success:   attemptErr == nil,
		Prompt:    promptJSON(opts.Messages),
	}
	if resp != nil {
		rec.PromptTokens = resp.PromptTokens
		rec.CompletionTokens = resp.CompletionTokens
	}
	if attemptErr != nil {
		rec.ErrorMessage = attemptErr.Error()
	}
	e.recorder.Log(rec)

	if e.metrics != nil {
		e.metrics.ObserveGeneration(opts.Provider, false, attemptErr == nil, latency)
		if resp != nil {
			e.metrics.AddTokens(opts.Provider, resp.PromptTokens, resp.CompletionTokens, false)
		}
		e.metrics.AddCost(opts.Provider, cost)
	}
}

func validate(opts *Options) error {
	if opts.TenantID == "" {
		return fmt.Errorf("engine: tenant id must not be empty")
	}
	if opts.Provider == "" {
		return fmt.Errorf("engine: provider must not be empty")
	}
	if len(opts.Messages) == 0 {
		return fmt.Errorf("engine: messages must not be empty")
	}
	return nil
}

// promptJSON is the canonical serialized form of a message sequence, shared
// with the cache key digest.
func promptJSON(msgs []providers.Message) string {
	data, _ := json.Marshal(msgs)
	return string(data)
}
