// Package usagelog persists usage metrics and audit records for every
// generation attempt.
//
// Each attempt produces one Record, which fans out into two independent
// append-only rows:
//   - UsageEntry — tokens, cost, latency, module, success. No prompt text.
//   - AuditEntry — the serialized prompt plus outcome. No response body, so
//     audit storage growth stays bounded by request size.
//
// Records are written to an internal buffered channel and flushed in batches
// by a background goroutine — recording never blocks the generation hot
// path. If the channel fills up (> 10 000 records), new records are dropped
// and counted in Dropped.
package usagelog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one generation attempt, success or failure. Cached hits are
// recorded with zero cost and the cached token count.
type Record struct {
	ID               uuid.UUID
	TenantID         string
	UserID           string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	LatencyMs        int64
	Module           string
	Success          bool
	ErrorMessage     string
	Prompt           string // serialized message sequence, audit only
	Cached           bool
	CreatedAt        time.Time
}

// UsageEntry is the metrics row derived from a Record.
type UsageEntry struct {
	ID               uuid.UUID
	TenantID         string
	UserID           string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	LatencyMs        int64
	Module           string
	Success          bool
	Cached           bool
	CreatedAt        time.Time
}

// AuditEntry is the audit-trail row derived from a Record. The response body
// is intentionally omitted.
type AuditEntry struct {
	ID           uuid.UUID
	TenantID     string
	UserID       string
	Provider     string
	Prompt       string
	TokensUsed   int
	CostUSD      float64
	Success      bool
	ErrorMessage string
	Module       string
	CreatedAt    time.Time
}

// Sink persists batches of derived entries. Implementations must tolerate
// being called from a single background goroutine.
type Sink interface {
	WriteUsage(ctx context.Context, entries []UsageEntry) error
	WriteAudit(ctx context.Context, entries []AuditEntry) error
}

// split derives the two append-only rows from a record.
func split(r Record) (UsageEntry, AuditEntry) {
	usage := UsageEntry{
		ID:               r.ID,
		TenantID:         r.TenantID,
		UserID:           r.UserID,
		Provider:         r.Provider,
		Model:            r.Model,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.PromptTokens + r.CompletionTokens,
		CostUSD:          r.CostUSD,
		LatencyMs:        r.LatencyMs,
		Module:           r.Module,
		Success:          r.Success,
		Cached:           r.Cached,
		CreatedAt:        r.CreatedAt,
	}
	audit := AuditEntry{
		ID:           r.ID,
		TenantID:     r.TenantID,
		UserID:       r.UserID,
		Provider:     r.Provider,
		Prompt:       r.Prompt,
		TokensUsed:   r.PromptTokens + r.CompletionTokens,
		CostUSD:      r.CostUSD,
		Success:      r.Success,
		ErrorMessage: r.ErrorMessage,
		Module:       r.Module,
		CreatedAt:    r.CreatedAt,
	}
	return usage, audit
}
