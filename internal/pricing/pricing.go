// Package pricing computes the USD cost of a completion from its token
// counts. Prices are a static per-provider-per-model table; models missing
// from the table are billed at a conservative default rate so a request is
// never rejected just because its model is unpriced.
package pricing

import (
	"fmt"
	"strings"
)

// Rate holds USD prices per 1000 tokens.
type Rate struct {
	Input  float64
	Output float64
}

// DefaultRate is applied to any (provider, model) pair not present in the
// table.
var DefaultRate = Rate{Input: 0.0001, Output: 0.0002}

// rates is keyed by lower-cased "<provider>-<model>".
var rates = map[string]Rate{
	// OpenAI
	"openai-gpt-4o":        {Input: 0.0025, Output: 0.01},
	"openai-gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
	"openai-gpt-4-turbo":   {Input: 0.01, Output: 0.03},
	"openai-gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
	"openai-o1":            {Input: 0.015, Output: 0.06},
	"openai-o1-mini":       {Input: 0.0011, Output: 0.0044},

	// Anthropic
	"anthropic-claude-3-5-sonnet-20241022": {Input: 0.003, Output: 0.015},
	"anthropic-claude-3-5-haiku-20241022":  {Input: 0.0008, Output: 0.004},
	"anthropic-claude-3-opus-20240229":     {Input: 0.015, Output: 0.075},
	"anthropic-claude-3-haiku-20240307":    {Input: 0.00025, Output: 0.00125},

	// Google Gemini
	"gemini-gemini-1.5-flash": {Input: 0.000075, Output: 0.0003},
	"gemini-gemini-1.5-pro":   {Input: 0.00125, Output: 0.005},
	"gemini-gemini-2.0-flash": {Input: 0.0001, Output: 0.0004},

	// Groq
	"groq-llama-3.3-70b-versatile": {Input: 0.00059, Output: 0.00079},
	"groq-llama-3.1-8b-instant":    {Input: 0.00005, Output: 0.00008},
	"groq-gemma2-9b-it":            {Input: 0.0002, Output: 0.0002},

	// OpenRouter (provider-prefixed model ids)
	"openrouter-anthropic/claude-3.5-sonnet":       {Input: 0.003, Output: 0.015},
	"openrouter-openai/gpt-4o":                     {Input: 0.0025, Output: 0.01},
	"openrouter-openai/gpt-4o-mini":                {Input: 0.00015, Output: 0.0006},
	"openrouter-meta-llama/llama-3.1-70b-instruct": {Input: 0.0004, Output: 0.0004},
}

// Lookup returns the rate for (provider, model), falling back to DefaultRate
// for unknown pairs.
func Lookup(provider, model string) Rate {
	key := strings.ToLower(fmt.Sprintf("%s-%s", provider, model))
	if r, ok := rates[key]; ok {
		return r
	}
	return DefaultRate
}

// Cost returns the USD cost of a completion. Never fails: unpriced models
// use DefaultRate.
func Cost(provider, model string, promptTokens, completionTokens int) float64 {
	r := Lookup(provider, model)
	return float64(promptTokens)/1000*r.Input + float64(completionTokens)/1000*r.Output
}
