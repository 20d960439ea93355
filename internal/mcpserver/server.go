// Package mcpserver exposes corrections to MCP clients.
//
// Three tools are registered on an [mcp.Server]:
//
//   - correct_text corrects a piece of text with the stored provider keys,
//     falling back to the current settings for style, rules and model.
//   - list_models lists the model catalogue, optionally only models whose
//     provider has a stored key.
//   - usage_stats aggregates the usage history, optionally over a window.
//
// The server is transport agnostic. [Handler] serves it over streamable
// HTTP; tests connect through in-memory transports.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/keystore"
	"github.com/MrWong99/correctify/internal/observe"
	"github.com/MrWong99/correctify/internal/orchestrator"
	"github.com/MrWong99/correctify/internal/prompt"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/usage"
)

// Tool names.
const (
	ToolCorrectText = "correct_text"
	ToolListModels  = "list_models"
	ToolUsageStats  = "usage_stats"
)

// Corrector is the orchestrator surface used by the tools.
type Corrector interface {
	Submit(ctx context.Context, s orchestrator.Submission) (orchestrator.Result, error)
	Fallback(ctx context.Context, failedModelID string, extraKeys map[catalog.ProviderID]bool) (catalog.ModelDescriptor, bool)
}

// Config holds the server dependencies.
type Config struct {
	Corrector Corrector
	Ledger    *usage.Ledger
	Settings  *settings.Service
	Keys      keystore.Store

	// Version is reported to clients during initialisation.
	Version string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// CorrectInput is the argument object of correct_text.
type CorrectInput struct {
	Text         string  `json:"text" jsonschema:"the text to correct"`
	WritingStyle string  `json:"writingStyle,omitempty" jsonschema:"one of grammar, formal, informal, collaborative, concise; defaults to the configured style"`
	CustomRules  string  `json:"customRules,omitempty" jsonschema:"extra instructions appended to the prompt; defaults to the configured rules"`
	Model        string  `json:"model,omitempty" jsonschema:"model id from list_models; defaults to the configured model"`
	Temperature  float64 `json:"temperature,omitempty" jsonschema:"sampling temperature sent as given; 0 requests deterministic output"`
}

// CorrectOutput is the structured result of correct_text.
type CorrectOutput struct {
	Corrected  string             `json:"corrected"`
	Model      string             `json:"model"`
	Provider   catalog.ProviderID `json:"provider"`
	DurationMs int64              `json:"durationMs"`
}

// ListModelsInput is the argument object of list_models.
type ListModelsInput struct {
	AvailableOnly bool `json:"availableOnly,omitempty" jsonschema:"only list models whose provider has a stored API key"`
}

// ListModelsOutput is the structured result of list_models.
type ListModelsOutput struct {
	Models []catalog.ModelDescriptor `json:"models"`
}

// UsageInput is the argument object of usage_stats.
type UsageInput struct {
	Days int `json:"days,omitempty" jsonschema:"only count the last N days; 0 counts the whole history"`
}

// UsageOutput is the structured result of usage_stats.
type UsageOutput struct {
	Stats usage.Stats `json:"stats"`
}

type tools struct {
	cfg Config
}

// New creates an MCP server with all tools registered.
func New(cfg Config) *mcp.Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "correctify", Version: version}, &mcp.ServerOptions{
		Instructions: "Correct spelling, grammar and style of text while preserving its formatting.",
	})

	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	t := &tools{cfg: cfg}
	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolCorrectText,
		Description: "Correct spelling, grammar and punctuation of text, optionally rewriting it in a writing style. Markdown formatting is preserved.",
	}, instrument(cfg.Metrics, ToolCorrectText, t.correct))
	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolListModels,
		Description: "List the models that correct_text accepts.",
	}, instrument(cfg.Metrics, ToolListModels, t.listModels))
	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolUsageStats,
		Description: "Summarise recorded correction attempts: request counts, durations, token and cost estimates per provider.",
	}, instrument(cfg.Metrics, ToolUsageStats, t.usageStats))
	return srv
}

// instrument counts calls of a tool handler by outcome.
func instrument[In, Out any](m *observe.Metrics, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		res, out, err := h(ctx, req, in)
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RecordToolCall(ctx, name, status)
		return res, out, err
	}
}

// Handler serves srv over the streamable HTTP transport.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func (t *tools) correct(ctx context.Context, _ *mcp.CallToolRequest, in CorrectInput) (*mcp.CallToolResult, CorrectOutput, error) {
	prefs := settings.Defaults()
	if t.cfg.Settings != nil {
		prefs = t.cfg.Settings.Get()
	}

	style := prefs.WritingStyle
	if in.WritingStyle != "" {
		s, err := prompt.ParseStyle(in.WritingStyle)
		if err != nil {
			return nil, CorrectOutput{}, err
		}
		style = s
	}
	rules := prefs.CustomRules
	if strings.TrimSpace(in.CustomRules) != "" {
		rules = in.CustomRules
	}
	model := prefs.ModelID
	if in.Model != "" {
		model = in.Model
	}

	res, err := t.cfg.Corrector.Submit(ctx, orchestrator.Submission{
		Text:        in.Text,
		Style:       style,
		CustomRules: rules,
		ModelID:     model,
		Temperature: in.Temperature,
		Source:      usage.SourceMCP,
	})
	if err != nil {
		if fb, ok := t.cfg.Corrector.Fallback(ctx, model, nil); ok {
			err = fmt.Errorf("%w (free fallback model available: %s)", err, fb.ID)
		}
		slog.Debug("mcpserver: correct_text failed", "model", model, "err", err)
		return nil, CorrectOutput{}, err
	}
	return nil, CorrectOutput{
		Corrected:  res.Text,
		Model:      res.Model,
		Provider:   res.Provider,
		DurationMs: res.Duration.Milliseconds(),
	}, nil
}

func (t *tools) listModels(ctx context.Context, _ *mcp.CallToolRequest, in ListModelsInput) (*mcp.CallToolResult, ListModelsOutput, error) {
	models := catalog.All()
	if in.AvailableOnly {
		models = catalog.Available(catalog.HasKeys(keystore.Presence(ctx, t.cfg.Keys)))
	}
	if models == nil {
		models = []catalog.ModelDescriptor{}
	}
	return nil, ListModelsOutput{Models: models}, nil
}

func (t *tools) usageStats(_ context.Context, _ *mcp.CallToolRequest, in UsageInput) (*mcp.CallToolResult, UsageOutput, error) {
	if in.Days < 0 {
		return nil, UsageOutput{}, fmt.Errorf("days must not be negative, got %d", in.Days)
	}
	if in.Days == 0 {
		return nil, UsageOutput{Stats: t.cfg.Ledger.Stats()}, nil
	}
	return nil, UsageOutput{Stats: t.cfg.Ledger.StatsForWindow(in.Days)}, nil
}
