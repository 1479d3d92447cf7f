package usagelog

import (
	"context"
	"log/slog"
)

// SlogSink emits each entry as a structured log line. Useful for local
// development where no analytics store is running.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) WriteUsage(ctx context.Context, entries []UsageEntry) error {
	for _, e := range entries {
		s.log.InfoContext(ctx, "usage",
			slog.String("id", e.ID.String()),
			slog.String("tenant_id", e.TenantID),
			slog.String("provider", e.Provider),
			slog.String("model", e.Model),
			slog.Int("prompt_tokens", e.PromptTokens),
			slog.Int("completion_tokens", e.CompletionTokens),
			slog.Float64("cost_usd", e.CostUSD),
			slog.Int64("latency_ms", e.LatencyMs),
			slog.String("module", e.Module),
			slog.Bool("success", e.Success),
			slog.Bool("cached", e.Cached),
			slog.Time("created_at", e.CreatedAt),
		)
	}
	return nil
}

func (s *SlogSink) WriteAudit(ctx context.Context, entries []AuditEntry) error {
	for _, e := range entries {
		s.log.InfoContext(ctx, "audit",
			slog.String("id", e.ID.String()),
			slog.String("tenant_id", e.TenantID),
			slog.String("user_id", e.UserID),
			slog.String("provider", e.Provider),
			slog.Int("tokens_used", e.TokensUsed),
			slog.Float64("cost_usd", e.CostUSD),
			slog.Bool("success", e.Success),
			slog.String("error", e.ErrorMessage),
			slog.String("module", e.Module),
			slog.Time("created_at", e.CreatedAt),
		)
	}
	return nil
}
