package app

import (
	"context"
	"fmt"
	"log/slog"

	orcCache "github.com/nulpointcorp/ai-orchestrator/internal/cache"
	"github.com/nulpointcorp/ai-orchestrator/internal/configstore"
	"github.com/nulpointcorp/ai-orchestrator/internal/engine"
	"github.com/nulpointcorp/ai-orchestrator/internal/fallback"
	"github.com/nulpointcorp/ai-orchestrator/internal/metrics"
	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
	anthropicprov "github.com/nulpointcorp/ai-orchestrator/internal/providers/anthropic"
	geminiprov "github.com/nulpointcorp/ai-orchestrator/internal/providers/gemini"
	openaiprov "github.com/nulpointcorp/ai-orchestrator/internal/providers/openai"
	openaicompatprov "github.com/nulpointcorp/ai-orchestrator/internal/providers/openaicompat"
	"github.com/nulpointcorp/ai-orchestrator/internal/ratelimit"
	"github.com/nulpointcorp/ai-orchestrator/internal/server"
	"github.com/nulpointcorp/ai-orchestrator/internal/usagelog"
)

// initInfra establishes the configured external connections. Each one is
// optional — memory backends need no infrastructure at all.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Store.Mode == "postgres" {
		a.log.Info("connecting to postgres", slog.String("url", redactURL(a.cfg.Store.DatabaseURL)))
		pool, err := connectPostgres(ctx, a.cfg.Store.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.pool = pool
		a.log.Info("postgres connected")
	}

	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Cache.RedisURL)))
		rdb, err := connectRedis(ctx, a.cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	if a.cfg.Usage.Mode == "clickhouse" {
		a.log.Info("connecting to clickhouse", slog.String("addr", a.cfg.Usage.ClickHouseAddr))
		sink, err := usagelog.NewClickHouseSink(ctx, a.cfg.Usage.ClickHouseAddr,
			usagelog.WithDatabase(a.cfg.Usage.ClickHouseDB),
			usagelog.WithCredentials(a.cfg.Usage.ClickHouseUser, a.cfg.Usage.ClickHousePassword),
		)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.chSink = sink
		a.log.Info("clickhouse connected")
	}

	return nil
}

// initStores builds the tenant config store, rate limiter, and fallback
// chain store on the selected backend.
func (a *App) initStores(_ context.Context) error {
	defaults := ratelimit.Limits{
		MaxRequestsPerHour: a.cfg.Limits.MaxRequestsPerHour,
		MaxTokensPerDay:    a.cfg.Limits.MaxTokensPerDay,
		MaxCostPerMonthUSD: a.cfg.Limits.MaxCostPerMonthUSD,
	}

	switch a.cfg.Store.Mode {
	case "postgres":
		a.configs = configstore.NewPostgresStore(a.pool)
		a.limiter = ratelimit.NewPostgresLimiter(a.pool, defaults)
		a.chains = fallback.NewPostgresStore(a.pool)
		a.log.Info("store backend: postgres")

	case "memory":
		a.configs = configstore.NewMemoryStore()
		a.limiter = ratelimit.NewMemoryLimiter(defaults)
		a.chains = fallback.NewMemoryStore()
		a.log.Info("store backend: memory (in-process)")

	default:
		return fmt.Errorf("unknown store mode: %s", a.cfg.Store.Mode)
	}

	return nil
}

// initServices creates the response cache, the usage recorder, and the
// Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		a.cacheImpl = orcCache.NewRedisCacheFromClient(a.rdb)
		a.log.Info("cache backend: redis")

	case "memory":
		a.memCache = orcCache.NewMemoryCache(ctx)
		a.cacheImpl = a.memCache
		a.log.Info("cache backend: memory (in-process)")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	var sink usagelog.Sink
	switch a.cfg.Usage.Mode {
	case "clickhouse":
		sink = a.chSink
	case "memory":
		sink = usagelog.NewMemorySink()
	default:
		sink = usagelog.NewSlogSink(a.log)
	}

	rec, err := usagelog.New(ctx, sink, a.log)
	if err != nil {
		return fmt.Errorf("usage recorder: %w", err)
	}
	a.recorder = rec
	a.log.Info("usage sink", slog.String("mode", a.cfg.Usage.Mode))

	a.prom = metrics.New()

	return nil
}

// initProviders builds one adapter per supported provider. Adapters hold no
// credentials; keys are resolved per request from the config store, so every
// adapter is always registered.
func (a *App) initProviders(_ context.Context) error {
	a.provs = map[string]providers.Provider{
		providers.OpenAI:     openaiprov.New(),
		providers.Anthropic:  anthropicprov.New(),
		providers.Gemini:     geminiprov.New(),
		providers.Groq:       openaicompatprov.NewGroq(),
		providers.OpenRouter: openaicompatprov.NewOpenRouter(),
	}

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

func (a *App) initEngine(_ context.Context) error {
	eng, err := engine.New(engine.Deps{
		Providers:      a.provs,
		Configs:        a.configs,
		Cache:          a.cacheImpl,
		Limiter:        a.limiter,
		Recorder:       a.recorder,
		Chains:         a.chains,
		Metrics:        a.prom,
		Log:            a.log,
		AttemptTimeout: a.cfg.AttemptTimeout,
	})
	if err != nil {
		return err
	}
	a.eng = eng
	return nil
}

func (a *App) initServer(_ context.Context) error {
	srv, err := server.New(server.Deps{
		Engine:      a.eng,
		Configs:     a.configs,
		Chains:      a.chains,
		Providers:   a.provs,
		Metrics:     a.prom,
		Log:         a.log,
		CORSOrigins: a.cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}
	a.srv = srv
	return nil
}
