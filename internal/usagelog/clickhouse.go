package usagelog

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink writes usage and audit entries to ClickHouse. Expected
// tables:
//
//	CREATE TABLE ai_usage_logs (
//	    id                UUID,
//	    tenant_id         String,
//	    user_id           String,
//	    provider          LowCardinality(String),
//	    model             LowCardinality(String),
//	    prompt_tokens     UInt32,
//	    completion_tokens UInt32,
//	    total_tokens      UInt32,
//	    cost_usd          Float64,
//	    latency_ms        UInt32,
//	    module            LowCardinality(String),
//	    success           Bool,
//	    cached            Bool,
//	    created_at        DateTime64(3, 'UTC')
//	) ENGINE = MergeTree ORDER BY (tenant_id, created_at);
//
//	CREATE TABLE ai_audit_logs (
//	    id            UUID,
//	    tenant_id     String,
//	    user_id       String,
//	    provider      LowCardinality(String),
//	    prompt        String,
//	    tokens_used   UInt32,
//	    cost_usd      Float64,
//	    success       Bool,
//	    error_message String,
//	    module        LowCardinality(String),
//	    created_at    DateTime64(3, 'UTC')
//	) ENGINE = MergeTree ORDER BY (tenant_id, created_at);
type ClickHouseSink struct {
	conn driver.Conn
}

func NewClickHouseSink(ctx context.Context, addr string, opts ...ClickHouseOption) (*ClickHouseSink, error) {
	cfg := &clickhouse.Options{
		Addr: []string{addr},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	conn, err := clickhouse.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("usagelog: open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("usagelog: ping clickhouse: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

type ClickHouseOption func(*clickhouse.Options)

func WithDatabase(db string) ClickHouseOption {
	return func(o *clickhouse.Options) {
		o.Auth.Database = db
	}
}

func WithCredentials(user, password string) ClickHouseOption {
	return func(o *clickhouse.Options) {
		o.Auth.Username = user
		o.Auth.Password = password
	}
}

func (s *ClickHouseSink) WriteUsage(ctx context.Context, entries []UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO ai_usage_logs")
	if err != nil {
		return fmt.Errorf("usagelog: prepare usage batch: %w", err)
	}
	for _, e := range entries {
		if err := batch.Append(
			e.ID,
			e.TenantID,
			e.UserID,
			e.Provider,
			e.Model,
			uint32(e.PromptTokens),
			uint32(e.CompletionTokens),
			uint32(e.TotalTokens),
			e.CostUSD,
			uint32(e.LatencyMs),
			e.Module,
			e.Success,
			e.Cached,
			e.CreatedAt,
		); err != nil {
			return fmt.Errorf("usagelog: append usage entry: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("usagelog: send usage batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) WriteAudit(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO ai_audit_logs")
	if err != nil {
		return fmt.Errorf("usagelog: prepare audit batch: %w", err)
	}
	for _, e := range entries {
		if err := batch.Append(
			e.ID,
			e.TenantID,
			e.UserID,
			e.Provider,
			e.Prompt,
			uint32(e.TokensUsed),
			e.CostUSD,
			e.Success,
			e.ErrorMessage,
			e.Module,
			e.CreatedAt,
		); err != nil {
			return fmt.Errorf("usagelog: append audit entry: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("usagelog: send audit batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
