package gateway

import (
	"fmt"
	"strings"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/pkg/provider/llm/anyllm"
	"github.com/MrWong99/correctify/pkg/provider/llm/openai"
)

// Factory builds a [Corrector] bound to apiKey. The key has already been
// checked for blankness by [Registry.New].
type Factory func(apiKey string) (Corrector, error)

// ProviderOptions tunes one provider's factory.
type ProviderOptions struct {
	// BaseURL overrides the provider's default endpoint. Empty keeps it.
	BaseURL string

	// Timeout bounds each call. Zero means [DefaultTimeout].
	Timeout time.Duration
}

// Registry maps each provider to its constructor. It is safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	factories map[catalog.ProviderID]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[catalog.ProviderID]Factory)}
}

// Register installs factory for provider, replacing any previous one.
func (r *Registry) Register(provider catalog.ProviderID, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// Has reports whether a factory is registered for provider.
func (r *Registry) Has(provider catalog.ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[provider]
	return ok
}

// New constructs a [Corrector] for provider. A blank apiKey fails with a
// [*ConfigError] wrapping [ErrMissingKey] before any factory runs.
func (r *Registry) New(provider catalog.ProviderID, apiKey string) (Corrector, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Provider: provider, Err: ErrMissingKey}
	}
	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, provider)
	}
	c, err := factory(apiKey)
	if err != nil {
		return nil, &ConfigError{Provider: provider, Err: err}
	}
	return c, nil
}

// NewDefaultRegistry returns a registry with the four built-in providers.
// opts may be nil; missing entries use the provider defaults.
func NewDefaultRegistry(opts map[catalog.ProviderID]ProviderOptions) *Registry {
	r := NewRegistry()
	r.Register(catalog.OpenAI, OpenAIFactory(opts[catalog.OpenAI]))
	r.Register(catalog.OpenRouter, OpenRouterFactory(opts[catalog.OpenRouter]))
	r.Register(catalog.Anthropic, AnyLLMFactory(catalog.Anthropic, opts[catalog.Anthropic]))
	r.Register(catalog.Mistral, AnyLLMFactory(catalog.Mistral, opts[catalog.Mistral]))
	return r
}

// OpenAIFactory returns a [Factory] for the OpenAI Chat Completions API.
func OpenAIFactory(o ProviderOptions) Factory {
	return func(apiKey string) (Corrector, error) {
		var oo []openai.Option
		if o.BaseURL != "" {
			oo = append(oo, openai.WithBaseURL(o.BaseURL))
		}
		p, err := openai.New(apiKey, oo...)
		if err != nil {
			return nil, err
		}
		return NewLLMCorrector(catalog.OpenAI, p,
			WithTimeout(o.Timeout), WithStatusFunc(openai.StatusCode)), nil
	}
}

// OpenRouterFactory returns a [Factory] for OpenRouter's OpenAI-compatible
// API.
func OpenRouterFactory(o ProviderOptions) Factory {
	return func(apiKey string) (Corrector, error) {
		var oo []openai.Option
		if o.BaseURL != "" {
			oo = append(oo, openai.WithBaseURL(o.BaseURL))
		}
		p, err := openai.NewOpenRouter(apiKey, oo...)
		if err != nil {
			return nil, err
		}
		return NewLLMCorrector(catalog.OpenRouter, p,
			WithTimeout(o.Timeout), WithStatusFunc(openai.StatusCode)), nil
	}
}

// AnyLLMFactory returns a [Factory] for providers served by any-llm-go
// (anthropic and mistral).
func AnyLLMFactory(provider catalog.ProviderID, o ProviderOptions) Factory {
	return func(apiKey string) (Corrector, error) {
		opts := []anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}
		if o.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(o.BaseURL))
		}
		p, err := anyllm.New(string(provider), opts...)
		if err != nil {
			return nil, err
		}
		return NewLLMCorrector(provider, p,
			WithTimeout(o.Timeout), WithStatusFunc(anyllm.StatusCode)), nil
	}
}
