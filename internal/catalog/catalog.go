// Package catalog holds the static model registry: the closed set of
// providers, the compiled-in model descriptors, and the pure lookup
// functions over them.
//
// The catalogue is loaded once at process start and never mutated. Every
// function in this package is safe for concurrent use.
package catalog

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// ProviderID identifies one external LLM vendor. It is a closed enumeration;
// each value maps to exactly one gateway implementation and one key slot.
type ProviderID string

const (
	OpenAI     ProviderID = "openai"
	Anthropic  ProviderID = "anthropic"
	Mistral    ProviderID = "mistral"
	OpenRouter ProviderID = "openrouter"
)

// Providers returns all provider ids in a stable order.
func Providers() []ProviderID {
	return []ProviderID{OpenAI, Anthropic, Mistral, OpenRouter}
}

// Valid reports whether p is one of the known providers.
func (p ProviderID) Valid() bool {
	switch p {
	case OpenAI, Anthropic, Mistral, OpenRouter:
		return true
	}
	return false
}

// KeyName returns the secure-storage slot name for p, e.g. "openai-api-key".
func (p ProviderID) KeyName() string {
	return string(p) + "-api-key"
}

// DisplayName returns the human-facing provider name used in notifications.
func (p ProviderID) DisplayName() string {
	switch p {
	case OpenAI:
		return "OpenAI"
	case OpenRouter:
		return "OpenRouter"
	}
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// ParseProvider converts s (case-insensitive) to a ProviderID.
func ParseProvider(s string) (ProviderID, error) {
	p := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("catalog: unknown provider %q; valid values: openai, anthropic, mistral, openrouter", s)
	}
	return p, nil
}

// Tier separates paid models from free ones.
type Tier string

const (
	TierPaid Tier = "paid"
	TierFree Tier = "free"
)

// Cost is the per-thousand-token price in USD.
type Cost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// ModelDescriptor describes one model in the catalogue.
type ModelDescriptor struct {
	ID            string     `json:"id"`
	DisplayName   string     `json:"displayName"`
	Provider      ProviderID `json:"provider"`
	Tier          Tier       `json:"tier"`
	Description   string     `json:"description,omitempty"`
	ContextWindow int        `json:"contextWindow"`

	// CostPerThousandTokens is nil for models without a known price.
	CostPerThousandTokens *Cost `json:"costPerThousandTokens,omitempty"`
}

// models is the compiled-in catalogue. Paid models come before free ones.
var models = []ModelDescriptor{
	// OpenAI
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o Mini", Provider: OpenAI, Tier: TierPaid, Description: "Fast and affordable", ContextWindow: 128000, CostPerThousandTokens: &Cost{0.00015, 0.0006}},
	{ID: "gpt-5", DisplayName: "GPT-5", Provider: OpenAI, Tier: TierPaid, Description: "Most advanced reasoning", ContextWindow: 128000, CostPerThousandTokens: &Cost{0.005, 0.015}},
	{ID: "gpt-5-mini", DisplayName: "GPT-5 Mini", Provider: OpenAI, Tier: TierPaid, Description: "Balanced performance", ContextWindow: 128000, CostPerThousandTokens: &Cost{0.001, 0.003}},
	{ID: "gpt-4o", DisplayName: "GPT-4o", Provider: OpenAI, Tier: TierPaid, Description: "Most capable model", ContextWindow: 128000, CostPerThousandTokens: &Cost{0.0025, 0.01}},
	{ID: "gpt-4-turbo", DisplayName: "GPT-4 Turbo", Provider: OpenAI, Tier: TierPaid, Description: "Powerful and versatile", ContextWindow: 128000, CostPerThousandTokens: &Cost{0.01, 0.03}},
	{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", Provider: OpenAI, Tier: TierPaid, Description: "Very affordable and fast", ContextWindow: 16385, CostPerThousandTokens: &Cost{0.0005, 0.0015}},

	// Anthropic
	{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet", Provider: Anthropic, Tier: TierPaid, Description: "Balanced performance", ContextWindow: 200000, CostPerThousandTokens: &Cost{0.003, 0.015}},
	{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku", Provider: Anthropic, Tier: TierPaid, Description: "Fast and efficient", ContextWindow: 200000, CostPerThousandTokens: &Cost{0.0008, 0.004}},

	// Mistral
	{ID: "mistral-small-latest", DisplayName: "Mistral Small", Provider: Mistral, Tier: TierPaid, Description: "Cost-effective", ContextWindow: 32000, CostPerThousandTokens: &Cost{0.0002, 0.0006}},
	{ID: "mistral-large-latest", DisplayName: "Mistral Large", Provider: Mistral, Tier: TierPaid, Description: "Most capable Mistral", ContextWindow: 128000, CostPerThousandTokens: &Cost{0.002, 0.006}},

	// OpenRouter free models: a key is required but tokens are not billed.
	{ID: "meta-llama/llama-3.2-3b-instruct:free", DisplayName: "Llama 3.2 3B (Free)", Provider: OpenRouter, Tier: TierFree, Description: "Fast, lightweight", ContextWindow: 131072},
	{ID: "google/gemma-2-9b-it:free", DisplayName: "Gemma 2 9B (Free)", Provider: OpenRouter, Tier: TierFree, Description: "Google's open model", ContextWindow: 8192},
	{ID: "microsoft/phi-3-mini-128k-instruct:free", DisplayName: "Phi-3 Mini (Free)", Provider: OpenRouter, Tier: TierFree, Description: "Microsoft research model", ContextWindow: 128000},
	{ID: "mistralai/mistral-7b-instruct:free", DisplayName: "Mistral 7B (Free)", Provider: OpenRouter, Tier: TierFree, Description: "Open source Mistral", ContextWindow: 32768},
}

// byID indexes models for O(1) lookup.
var byID = func() map[string]ModelDescriptor {
	m := make(map[string]ModelDescriptor, len(models))
	for _, d := range models {
		m[d.ID] = d
	}
	return m
}()

// All returns a copy of the full catalogue in catalogue order.
func All() []ModelDescriptor {
	out := make([]ModelDescriptor, len(models))
	copy(out, models)
	return out
}

// Available returns every descriptor whose provider has a key according to
// hasKey, preserving catalogue order. A nil hasKey yields no models.
func Available(hasKey func(ProviderID) bool) []ModelDescriptor {
	if hasKey == nil {
		return nil
	}
	var out []ModelDescriptor
	for _, d := range models {
		if hasKey(d.Provider) {
			out = append(out, d)
		}
	}
	return out
}

// HasKeys adapts a presence map to the predicate accepted by [Available].
func HasKeys(m map[ProviderID]bool) func(ProviderID) bool {
	return func(p ProviderID) bool { return m[p] }
}

// ByID returns the descriptor with the given id.
func ByID(id string) (ModelDescriptor, bool) {
	d, ok := byID[id]
	return d, ok
}

// Default returns the default model, the first catalogue entry.
func Default() ModelDescriptor {
	return models[0]
}

// DefaultFor returns the first catalogue model of provider p.
func DefaultFor(p ProviderID) (ModelDescriptor, bool) {
	for _, d := range models {
		if d.Provider == p {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

// ProviderForModel derives the provider from the lexical shape of a model id:
// ids containing both "/" and ":" are OpenRouter models, the "claude-" prefix
// is Anthropic, the "mistral-" prefix is Mistral and everything else,
// including unknown ids, is OpenAI.
func ProviderForModel(id string) ProviderID {
	switch {
	case strings.Contains(id, "/") && strings.Contains(id, ":"):
		return OpenRouter
	case strings.HasPrefix(id, "claude-"):
		return Anthropic
	case strings.HasPrefix(id, "mistral-"):
		return Mistral
	default:
		return OpenAI
	}
}

// FreeModels returns the free-tier subset of available, preserving order.
func FreeModels(available []ModelDescriptor) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range available {
		if d.Tier == TierFree {
			out = append(out, d)
		}
	}
	return out
}

// FirstFree returns the first free-tier model in available whose id differs
// from exclude.
func FirstFree(available []ModelDescriptor, exclude string) (ModelDescriptor, bool) {
	for _, d := range available {
		if d.Tier == TierFree && d.ID != exclude {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

// suggestThreshold is the minimum Jaro-Winkler similarity for a suggestion.
const suggestThreshold = 0.85

// Suggest returns the catalogue id most similar to id, for "did you mean"
// hints on unknown model ids. ok is false when id is already known or
// nothing is similar enough.
func Suggest(id string) (string, bool) {
	if _, known := byID[id]; known || id == "" {
		return "", false
	}
	best, bestScore := "", 0.0
	lower := strings.ToLower(id)
	for _, d := range models {
		score := matchr.JaroWinkler(lower, strings.ToLower(d.ID), false)
		if score > bestScore {
			best, bestScore = d.ID, score
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}
