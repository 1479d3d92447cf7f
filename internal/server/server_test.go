package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/ai-orchestrator/internal/cache"
	"github.com/nulpointcorp/ai-orchestrator/internal/configstore"
	"github.com/nulpointcorp/ai-orchestrator/internal/engine"
	"github.com/nulpointcorp/ai-orchestrator/internal/fallback"
	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
	"github.com/nulpointcorp/ai-orchestrator/internal/ratelimit"
	"github.com/nulpointcorp/ai-orchestrator/internal/usagelog"
)

type stubProvider struct {
	name string
	fail error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(context.Context, *providers.Request) (*providers.Response, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	return &providers.Response{Content: "stub reply", PromptTokens: 10, CompletionTokens: 5}, nil
}

func (p *stubProvider) HealthCheck(context.Context, string) error { return p.fail }

type testServer struct {
	server  *Server
	configs *configstore.MemoryStore
	chains  *fallback.MemoryStore
	limiter *ratelimit.MemoryLimiter
	stubs   map[string]*stubProvider
	client  *http.Client
}

// serve starts the full routed handler on an in-memory listener and returns
// an HTTP client pointed at it.
func serve(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	stubs := map[string]*stubProvider{
		providers.OpenAI:    {name: providers.OpenAI},
		providers.Anthropic: {name: providers.Anthropic},
	}
	provs := make(map[string]providers.Provider, len(stubs))
	for name, stub := range stubs {
		provs[name] = stub
	}

	configs := configstore.NewMemoryStore()
	if err := configs.Upsert(ctx, configstore.Config{
		TenantID: "t1",
		Provider: providers.OpenAI,
		APIKey:   "sk-live-abcdef123456",
		IsActive: true,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	memCache := cache.NewMemoryCache(ctx)
	t.Cleanup(memCache.Close)

	rec, err := usagelog.New(ctx, usagelog.NewMemorySink(), nil)
	if err != nil {
		t.Fatalf("usagelog.New: %v", err)
	}
	t.Cleanup(func() { rec.Close() })

	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultLimits)
	chains := fallback.NewMemoryStore()

	eng, err := engine.New(engine.Deps{
		Providers: provs,
		Configs:   configs,
		Cache:     memCache,
		Limiter:   limiter,
		Recorder:  rec,
		Chains:    chains,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv, err := New(Deps{
		Engine:    eng,
		Configs:   configs,
		Chains:    chains,
		Providers: provs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln := fasthttputil.NewInmemoryListener()
	go func() {
		_ = fasthttp.Serve(ln, srv.Handler())
	}()
	t.Cleanup(func() { ln.Close() })

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}

	return &testServer{
		server:  srv,
		configs: configs,
		chains:  chains,
		limiter: limiter,
		stubs:   stubs,
		client:  client,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, "http://orchestrator"+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

const generateBody = `{
	"tenant_id": "t1",
	"user_id": "u1",
	"provider": "openai",
	"module": "chat",
	"messages": [{"role": "user", "content": "hello"}]
}`

func TestGenerateEndpoint(t *testing.T) {
	ts := serve(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/generate", generateBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var res engine.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if res.Content != "stub reply" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Cached {
		t.Error("first request reported as cached")
	}

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestGenerateEndpointMalformedBody(t *testing.T) {
	ts := serve(t)

	resp, _ := ts.do(t, http.MethodPost, "/v1/generate", `{"tenant_id":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateEndpointNotConfigured(t *testing.T) {
	ts := serve(t)

	body := strings.Replace(generateBody, `"openai"`, `"anthropic"`, 1)
	resp, data := ts.do(t, http.MethodPost, "/v1/generate", body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, data)
	}

	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if env.Error.Code != "provider_not_configured" {
		t.Errorf("code = %q", env.Error.Code)
	}
}

func TestGenerateEndpointRateLimited(t *testing.T) {
	ts := serve(t)
	ts.limiter.SetLimits("t1", ratelimit.Limits{
		MaxRequestsPerHour: 1,
		MaxTokensPerDay:    1_000_000,
		MaxCostPerMonthUSD: 100,
	})

	if resp, body := ts.do(t, http.MethodPost, "/v1/generate", generateBody); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d, body = %s", resp.StatusCode, body)
	}

	second := strings.Replace(generateBody, "hello", "different prompt", 1)
	resp, _ := ts.do(t, http.MethodPost, "/v1/generate", second)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestGenerateEndpointProviderError(t *testing.T) {
	ts := serve(t)
	ts.stubs[providers.OpenAI].fail = fmt.Errorf("upstream unavailable")

	resp, _ := ts.do(t, http.MethodPost, "/v1/generate", generateBody)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestFallbackEndpoint(t *testing.T) {
	ts := serve(t)
	ts.stubs[providers.OpenAI].fail = fmt.Errorf("upstream unavailable")

	if err := ts.configs.Upsert(context.Background(), configstore.Config{
		TenantID: "t1",
		Provider: providers.Anthropic,
		APIKey:   "sk-ant-abcdef123456",
		IsActive: true,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ts.chains.Set(context.Background(), &fallback.Config{
		TenantID:      "t1",
		Module:        "chat",
		PriorityOrder: []string{providers.OpenAI, providers.Anthropic},
		Enabled:       true,
	}); err != nil {
		t.Fatalf("Set chain: %v", err)
	}

	resp, body := ts.do(t, http.MethodPost, "/v1/generate/fallback", generateBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var res engine.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if res.Provider != providers.Anthropic {
		t.Errorf("served by %q, want anthropic", res.Provider)
	}
}

func TestConfigCRUD(t *testing.T) {
	ts := serve(t)

	resp, body := ts.do(t, http.MethodPut, "/v1/tenants/t2/providers/anthropic",
		`{"api_key": "sk-ant-secret-key-value", "model": "claude-3-5-sonnet-20241022"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d, body = %s", resp.StatusCode, body)
	}

	var cfg map[string]any
	if err := json.Unmarshal(body, &cfg); err != nil {
		t.Fatalf("parse upsert response: %v", err)
	}
	key, _ := cfg["api_key"].(string)
	if key != "sk-ant-s..." {
		t.Errorf("api_key = %q, want masked preview", key)
	}

	resp, body = ts.do(t, http.MethodGet, "/v1/tenants/t2/providers", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "sk-ant-secret-key-value") {
		t.Error("list leaked the full API key")
	}
	if !strings.Contains(string(body), "anthropic") {
		t.Errorf("list body = %s", body)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/v1/tenants/t2/providers/anthropic", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}

	_, body = ts.do(t, http.MethodGet, "/v1/tenants/t2/providers", "")
	if strings.Contains(string(body), "anthropic") {
		t.Errorf("config survived delete: %s", body)
	}
}

func TestConfigUpsertRejectsUnknownProvider(t *testing.T) {
	ts := serve(t)

	resp, _ := ts.do(t, http.MethodPut, "/v1/tenants/t1/providers/nonesuch",
		`{"api_key": "sk-whatever"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConfigTestEndpoint(t *testing.T) {
	ts := serve(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/tenants/t1/providers/openai/test", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result configstore.TestResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if !result.Success {
		t.Errorf("test failed: %s", result.Message)
	}

	// A failing key reports failure in the body, still HTTP 200.
	ts.stubs[providers.OpenAI].fail = fmt.Errorf("401 invalid api key")
	resp, body = ts.do(t, http.MethodPost, "/v1/tenants/t1/providers/openai/test", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if result.Success {
		t.Error("expected failure result")
	}

	// Unconfigured pair reports failure too.
	resp, body = ts.do(t, http.MethodPost, "/v1/tenants/t9/providers/openai/test", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if result.Success {
		t.Error("expected failure for unconfigured pair")
	}
}

func TestChainCRUD(t *testing.T) {
	ts := serve(t)

	resp, body := ts.do(t, http.MethodPut, "/v1/tenants/t1/fallback/chat",
		`{"priority_order": ["openai", "anthropic"], "enabled": true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d, body = %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/v1/tenants/t1/fallback/chat", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var cfg fallback.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	if len(cfg.PriorityOrder) != 2 || cfg.PriorityOrder[0] != "openai" {
		t.Errorf("priority order = %v", cfg.PriorityOrder)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/v1/tenants/t1/fallback/chat", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodGet, "/v1/tenants/t1/fallback/chat", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestChainUpsertRejectsEmptyOrder(t *testing.T) {
	ts := serve(t)

	resp, _ := ts.do(t, http.MethodPut, "/v1/tenants/t1/fallback/chat",
		`{"priority_order": [], "enabled": true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := serve(t)

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var health map[string]any
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("parse health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v", health["status"])
	}
	names, ok := health["providers"].([]any)
	if !ok || len(names) != 2 {
		t.Fatalf("providers = %v, want the two registered names", health["providers"])
	}
	if names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("providers = %v, want sorted [anthropic openai]", names)
	}

	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}
