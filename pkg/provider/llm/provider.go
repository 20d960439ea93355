// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote model API (OpenAI, OpenRouter, Anthropic or
// Mistral) and exposes a single request/response completion call so that the
// correction gateway never couples to a specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type CompletionRequest struct {
	// Model is the provider-specific model identifier, e.g. "gpt-4o-mini" or
	// "claude-3-5-haiku-20241022".
	Model string

	// Messages is the ordered conversation. For corrections this is a single
	// "user" message carrying the text to correct.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. It is
	// always sent to the provider, so the zero value requests greedy decoding.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is the high-priority instruction block injected before the
	// conversation. Providers without a dedicated system field receive it as a
	// leading "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair. Zero
	// when the backend did not report usage.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly once ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// performs exactly one outbound call and never retries.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what the named model
	// supports.
	Capabilities(model string) ModelCapabilities
}
