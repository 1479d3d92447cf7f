package usagelog

import (
	"context"
	"sync"
)

// MemorySink keeps entries in process memory. Used in tests and as the sink
// of last resort when no ClickHouse address is configured.
type MemorySink struct {
	mu    sync.Mutex
	usage []UsageEntry
	audit []AuditEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) WriteUsage(_ context.Context, entries []UsageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, entries...)
	return nil
}

func (s *MemorySink) WriteAudit(_ context.Context, entries []AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entries...)
	return nil
}

// UsageEntries returns a copy of everything written so far.
func (s *MemorySink) UsageEntries() []UsageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageEntry, len(s.usage))
	copy(out, s.usage)
	return out
}

// AuditEntries returns a copy of everything written so far.
func (s *MemorySink) AuditEntries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
