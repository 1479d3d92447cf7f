package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
)

func baseRequest() *providers.Request {
	return &providers.Request{
		APIKey:   "sk-ant-tenant-key",
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []providers.Message{{Role: "user", Content: "Hello"}},
	}
}

func respondMessageJSON(w http.ResponseWriter, text string, inTok, outTok int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":    "msg_01",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  inTok,
			"output_tokens": outTok,
		},
	})
}

func systemAsText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []any:
		if len(s) == 0 {
			return "", true
		}
		if m, ok := s[0].(map[string]any); ok {
			if txt, ok := m["text"].(string); ok {
				return txt, true
			}
		}
	}
	return "", false
}

func TestProvider_Name(t *testing.T) {
	p := New()
	if p.Name() != "anthropic" {
		t.Fatalf("expected 'anthropic', got %q", p.Name())
	}
}

func TestProvider_Complete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "sk-ant-tenant-key" {
			t.Errorf("missing or wrong x-api-key header: %s", r.Header.Get("X-Api-Key"))
		}
		respondMessageJSON(w, "Hi there", 12, 6)
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != "Hi there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.PromptTokens != 12 || resp.CompletionTokens != 6 {
		t.Errorf("tokens = %d/%d", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestProvider_Complete_SystemMessagesLifted(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		respondMessageJSON(w, "ok", 1, 1)
	}))
	defer srv.Close()

	req := baseRequest()
	req.Messages = []providers.Message{
		{Role: "system", Content: "Be brief."},
		{Role: "system", Content: "Use plain language."},
		{Role: "user", Content: "Hello"},
	}

	p := New(WithBaseURL(srv.URL))
	if _, err := p.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	system, ok := systemAsText(body["system"])
	if !ok {
		t.Fatalf("system field missing or wrong shape: %v", body["system"])
	}
	if system != "Be brief.\nUse plain language." {
		t.Errorf("system = %q", system)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("turn list has %d entries, want 1 (system lifted out)", len(msgs))
	}
}

func TestProvider_Complete_DefaultMaxTokens(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		respondMessageJSON(w, "ok", 1, 1)
	}))
	defer srv.Close()

	req := baseRequest()
	req.MaxTokens = 0

	p := New(WithBaseURL(srv.URL))
	if _, err := p.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mt, _ := body["max_tokens"].(float64); int(mt) != defaultMaxTokens {
		t.Errorf("max_tokens = %v, want %d", body["max_tokens"], defaultMaxTokens)
	}
}

func TestProvider_Complete_MissingKey(t *testing.T) {
	p := New()
	req := baseRequest()
	req.APIKey = ""

	if _, err := p.Complete(context.Background(), req); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestProvider_Complete_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "authentication_error",
				"message": "invalid x-api-key",
			},
		})
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), baseRequest())

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", provErr.HTTPStatus())
	}
}
