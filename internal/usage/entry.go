package usage

import (
	"math"
	"unicode/utf8"

	"github.com/MrWong99/correctify/internal/catalog"
)

// Source labels where a correction attempt came from.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceHotkey Source = "hotkey"
	SourceMCP    Source = "mcp"
)

// Entry is one recorded correction attempt. Entries are immutable once
// recorded.
type Entry struct {
	ID              string             `json:"id"`
	Timestamp       int64              `json:"timestamp"` // epoch milliseconds
	Provider        catalog.ProviderID `json:"provider"`
	Model           string             `json:"model"`
	TokensEstimated int                `json:"tokensEstimated"`
	DurationMs      int64              `json:"durationMs"`
	Success         bool               `json:"success"`
	Error           string             `json:"error,omitempty"`
	Source          Source             `json:"source,omitempty"`
}

// EstimateTokens approximates the token count of text as one token per four
// characters, rounded up. It is a display estimate only and must not be used
// for request sizing.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}
