package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/prompt"
	"github.com/MrWong99/correctify/pkg/provider/llm"
	"github.com/MrWong99/correctify/pkg/provider/llm/mock"
)

func TestCorrect_SendsInstructionsAndText(t *testing.T) {
	t.Parallel()
	backend := &mock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "  I went to the store yesterday.\n"},
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384},
	}
	c := NewLLMCorrector(catalog.OpenAI, backend)

	res, err := c.Correct(context.Background(), Request{
		Text:        "I goes to the store yesterday.",
		Provider:    catalog.OpenAI,
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		Style:       prompt.Formal,
		CustomRules: "Use British spelling.",
	})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Text != "I went to the store yesterday." {
		t.Errorf("text = %q, want trimmed reply", res.Text)
	}

	calls := backend.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one backend call, got %d", len(calls))
	}
	req := calls[0].Req
	if req.Model != "gpt-4o-mini" || req.Temperature != 0.2 || req.MaxTokens != 16_384 {
		t.Errorf("unexpected request %+v", req)
	}
	if req.SystemPrompt != prompt.BuildInstructions(prompt.Formal, "Use British spelling.") {
		t.Error("system prompt should be the composed instructions")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "I goes to the store yesterday." {
		t.Errorf("messages = %+v", req.Messages)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("backend call should carry a deadline")
	}
}

func TestCorrect_EmptyReply(t *testing.T) {
	t.Parallel()
	for _, resp := range []*llm.CompletionResponse{nil, {Content: "   \n"}} {
		c := NewLLMCorrector(catalog.Mistral, &mock.Provider{CompleteResponse: resp})
		_, err := c.Correct(context.Background(), Request{Text: "x", Model: "mistral-small-latest"})

		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("expected *ProviderError, got %T %v", err, err)
		}
		if !errors.Is(err, ErrEmptyResponse) {
			t.Error("expected ErrEmptyResponse in chain")
		}
		if pe.Transient() {
			t.Error("empty responses are not transient")
		}
	}
}

func TestCorrect_NormalisesBackendError(t *testing.T) {
	t.Parallel()
	sdkErr := errors.New("openai: chat completion: 500 Internal Server Error")
	c := NewLLMCorrector(catalog.OpenAI, &mock.Provider{CompleteErr: sdkErr},
		WithStatusFunc(func(error) (int, bool) { return http.StatusInternalServerError, true }))

	_, err := c.Correct(context.Background(), Request{Text: "x", Model: "gpt-4o"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if pe.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", pe.StatusCode)
	}
	if pe.Provider != catalog.OpenAI || pe.Model != "gpt-4o" {
		t.Errorf("unexpected provider/model %q/%q", pe.Provider, pe.Model)
	}
	if !errors.Is(err, sdkErr) {
		t.Error("original error should stay in the chain")
	}
	if !pe.Transient() || !IsTransient(err) {
		t.Error("5xx should be transient")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("message %q should mention the status", err)
	}
}

func TestCorrect_Timeout(t *testing.T) {
	t.Parallel()
	backend := &mock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := NewLLMCorrector(catalog.Anthropic, backend, WithTimeout(20*time.Millisecond))

	_, err := c.Correct(context.Background(), Request{Text: "x", Model: "claude-3-5-haiku-20241022"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if !strings.Contains(pe.Message, "timed out") {
		t.Errorf("message = %q", pe.Message)
	}
	if !pe.Transient() {
		t.Error("timeouts are transient")
	}
}

func TestCorrect_ValidationNeverCallsBackend(t *testing.T) {
	t.Parallel()
	backend := &mock.Provider{}
	c := NewLLMCorrector(catalog.OpenAI, backend)

	for _, req := range []Request{{Text: "  ", Model: "gpt-4o"}, {Text: "x"}} {
		_, err := c.Correct(context.Background(), req)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected *ValidationError for %+v, got %v", req, err)
		}
	}
	if n := len(backend.Calls()); n != 0 {
		t.Errorf("backend called %d times", n)
	}
}

func TestProviderError_Transient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code int
		want bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		pe := &ProviderError{StatusCode: tc.code, Err: errors.New("x")}
		if got := pe.Transient(); got != tc.want {
			t.Errorf("Transient(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestProviderError_CancelledIsNotTransient(t *testing.T) {
	t.Parallel()
	cancelled := &ProviderError{Err: fmt.Errorf("post: %w", context.Canceled)}
	if cancelled.Transient() {
		t.Error("cancelled call reported as transient")
	}
	timedOut := &ProviderError{Err: context.DeadlineExceeded}
	if !timedOut.Transient() {
		t.Error("timed out call should stay transient")
	}
}

func TestConfigError_MentionsMissingKey(t *testing.T) {
	t.Parallel()
	err := error(&ConfigError{Provider: catalog.OpenAI, Err: ErrMissingKey})
	if !errors.Is(err, ErrMissingKey) {
		t.Error("expected ErrMissingKey in chain")
	}
	if !strings.Contains(err.Error(), "API key") || !strings.Contains(err.Error(), "openai-api-key") {
		t.Errorf("message = %q", err)
	}
}
