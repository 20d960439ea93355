package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/correctify/internal/catalog"
)

var (
	// ErrMissingKey is wrapped by [ConfigError] when no API key is configured
	// for the resolved provider.
	ErrMissingKey = errors.New("missing API key")

	// ErrEmptyResponse is wrapped by [ProviderError] when the provider replied
	// without usable text.
	ErrEmptyResponse = errors.New("provider returned an empty response")

	// ErrProviderNotRegistered is returned by [Registry.New] when no factory
	// exists for the requested provider.
	ErrProviderNotRegistered = errors.New("gateway: provider not registered")
)

// ConfigError reports a configuration problem that cannot be fixed by
// retrying, typically a blank API key. It is never the result of a network
// call.
type ConfigError struct {
	Provider catalog.ProviderID
	Err      error
}

func (e *ConfigError) Error() string {
	if errors.Is(e.Err, ErrMissingKey) {
		return fmt.Sprintf("missing API key for %s: configure %q first", e.Provider.DisplayName(), e.Provider.KeyName())
	}
	return fmt.Sprintf("%s configuration: %v", e.Provider, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProviderError is the single normalised failure shape of every gateway.
// Callers never need to inspect SDK-specific error types.
type ProviderError struct {
	Provider catalog.ProviderID
	Model    string

	// StatusCode is the HTTP status returned by the provider, or 0 when the
	// call failed before a response arrived.
	StatusCode int

	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s): HTTP %d: %s", e.Provider.DisplayName(), e.Model, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Provider.DisplayName(), e.Model, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure looks like a provider-side or
// transport problem (5xx, 429, no response) rather than a rejected request.
// Empty responses are not transient, and neither is a call the caller
// cancelled.
func (e *ProviderError) Transient() bool {
	if errors.Is(e.Err, ErrEmptyResponse) || errors.Is(e.Err, context.Canceled) {
		return false
	}
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// ValidationError reports caller-side input that never reaches a provider.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err wraps a transient [ProviderError].
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient()
}
