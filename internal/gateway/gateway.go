// Package gateway defines the single correction contract shared by all LLM
// providers and the normalised error taxonomy callers program against.
//
// Each [catalog.ProviderID] maps to exactly one [Factory] in a [Registry].
// A factory validates the API key at construction time, so a [Corrector]
// never issues a call without a key. Correct performs exactly one outbound
// call and never retries; retry policy belongs to the caller.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/prompt"
	"github.com/MrWong99/correctify/pkg/provider/llm"
)

// DefaultTimeout bounds a single provider call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Request is one correction submission. It is built once per attempt and
// not modified afterwards.
type Request struct {
	Text        string
	Provider    catalog.ProviderID
	Model       string
	Temperature float64
	Style       prompt.Style
	CustomRules string
}

// Instructions returns the composed system prompt for r.
func (r Request) Instructions() string {
	return prompt.BuildInstructions(r.Style, r.CustomRules)
}

// Result is the outcome of a successful correction.
type Result struct {
	Text string `json:"text"`
}

// Corrector turns a [Request] into a corrected text using one provider.
// Implementations must be safe for concurrent use.
type Corrector interface {
	Correct(ctx context.Context, req Request) (Result, error)
}

// StatusFunc extracts an HTTP status code from a provider SDK error.
type StatusFunc func(error) (int, bool)

// LLMCorrector adapts an [llm.Provider] to the [Corrector] contract: the
// composed instructions become the system prompt and the input text the only
// user message.
type LLMCorrector struct {
	provider catalog.ProviderID
	backend  llm.Provider
	timeout  time.Duration
	status   StatusFunc
}

// CorrectorOption configures an [LLMCorrector].
type CorrectorOption func(*LLMCorrector)

// WithTimeout overrides [DefaultTimeout]. Non-positive values are ignored.
func WithTimeout(d time.Duration) CorrectorOption {
	return func(c *LLMCorrector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStatusFunc sets how HTTP status codes are read from backend errors.
func WithStatusFunc(fn StatusFunc) CorrectorOption {
	return func(c *LLMCorrector) {
		c.status = fn
	}
}

// NewLLMCorrector wraps backend for provider.
func NewLLMCorrector(provider catalog.ProviderID, backend llm.Provider, opts ...CorrectorOption) *LLMCorrector {
	c := &LLMCorrector{
		provider: provider,
		backend:  backend,
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct implements [Corrector].
func (c *LLMCorrector) Correct(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if req.Model == "" {
		return Result{}, &ValidationError{Field: "model", Reason: "must not be empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.backend.Complete(ctx, llm.CompletionRequest{
		Model:        req.Model,
		SystemPrompt: req.Instructions(),
		Messages:     []llm.Message{{Role: "user", Content: req.Text}},
		Temperature:  req.Temperature,
		MaxTokens:    c.backend.Capabilities(req.Model).MaxOutputTokens,
	})
	if err != nil {
		return Result{}, c.normalise(req.Model, err)
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		return Result{}, &ProviderError{
			Provider: c.provider,
			Model:    req.Model,
			Message:  ErrEmptyResponse.Error(),
			Err:      ErrEmptyResponse,
		}
	}
	return Result{Text: text}, nil
}

// normalise folds any backend error into a [ProviderError].
func (c *LLMCorrector) normalise(model string, err error) *ProviderError {
	pe := &ProviderError{
		Provider: c.provider,
		Model:    model,
		Message:  err.Error(),
		Err:      err,
	}
	if c.status != nil {
		if code, ok := c.status(err); ok {
			pe.StatusCode = code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		pe.Message = fmt.Sprintf("request timed out after %s", c.timeout)
	}
	return pe
}

var _ Corrector = (*LLMCorrector)(nil)
