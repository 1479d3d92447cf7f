package engine

import (
	"fmt"
	"strings"
)

// UnknownProviderError is returned when a request names a provider the
// orchestrator has no adapter for.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("engine: unknown provider %q", e.Provider)
}

// NotConfiguredError is returned when the tenant has no active configuration
// for the requested provider.
type NotConfiguredError struct {
	TenantID string
	Provider string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("engine: provider %s is not configured for tenant %s", e.Provider, e.TenantID)
}

// ProviderCallError wraps a failed provider attempt with the provider name.
type ProviderCallError struct {
	Provider string
	Err      error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("engine: provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderCallError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every provider in a fallback chain failed.
// It unwraps to the last attempt's error.
type ExhaustedError struct {
	TenantID  string
	Attempted []string
	LastErr   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("engine: all providers failed for tenant %s (tried %s): %v",
		e.TenantID, strings.Join(e.Attempted, ", "), e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }
