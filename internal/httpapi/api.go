// Package httpapi exposes corrections and their management over HTTP.
//
// POST /correct mirrors the in-app submission: the caller supplies the
// provider key in an X-{PROVIDER}-KEY header and receives the corrected text
// plus duration, model and provider. On provider failures the response
// carries a free-tier fallback model id the caller may retry with. The
// remaining routes manage models, usage history, settings and stored keys.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/gateway"
	"github.com/MrWong99/correctify/internal/keystore"
	"github.com/MrWong99/correctify/internal/orchestrator"
	"github.com/MrWong99/correctify/internal/prompt"
	"github.com/MrWong99/correctify/internal/settings"
	"github.com/MrWong99/correctify/internal/usage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Corrector is the orchestrator surface used by the API.
type Corrector interface {
	Submit(ctx context.Context, s orchestrator.Submission) (orchestrator.Result, error)
	Fallback(ctx context.Context, failedModelID string, extraKeys map[catalog.ProviderID]bool) (catalog.ModelDescriptor, bool)
}

// Config holds the API dependencies and limits.
type Config struct {
	Corrector Corrector
	Ledger    *usage.Ledger
	Settings  *settings.Service
	Keys      keystore.Store

	// OnSettingsChange runs after a successful PUT /settings, typically to
	// push host-relevant preferences to the native host.
	OnSettingsChange func(ctx context.Context, s settings.Settings)

	// RateLimit is the per-IP request rate for POST /correct. Zero disables
	// limiting.
	RateLimit rate.Limit
	Burst     int

	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

// API serves the HTTP routes.
type API struct {
	cfg     Config
	limiter *IPRateLimiter
	now     func() time.Time
}

// New creates an API from cfg.
func New(cfg Config) *API {
	a := &API{cfg: cfg, now: time.Now}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = NewIPRateLimiter(cfg.RateLimit, burst, WithTrustedProxies(cfg.TrustedProxies...))
	}
	return a
}

// Mount registers all routes on r.
func (a *API) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.Limit)
		}
		r.Post("/correct", a.handleCorrect)
	})

	r.Get("/models", a.handleModels)

	r.Route("/usage", func(r chi.Router) {
		r.Get("/", a.handleUsageStats)
		r.Delete("/", a.handleUsageClear)
		r.Get("/entries", a.handleUsageEntries)
	})

	r.Get("/settings", a.handleSettingsGet)
	r.Put("/settings", a.handleSettingsPut)

	r.Get("/keys", a.handleKeysList)
	r.Put("/keys/{provider}", a.handleKeySet)
	r.Delete("/keys/{provider}", a.handleKeyDelete)
}

// Handler returns a standalone router serving the API.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	a.Mount(r)
	return r
}

// ── /correct ──────────────────────────────────────────────────────────────────

type correctRequest struct {
	Text         string  `json:"text"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	WritingStyle string  `json:"writingStyle"`
	CustomRules  string  `json:"customRules"`
}

type correctMeta struct {
	Duration int64              `json:"duration"`
	Model    string             `json:"model,omitempty"`
	Provider catalog.ProviderID `json:"provider,omitempty"`
}

type correctResponse struct {
	OK            bool         `json:"ok"`
	Result        string       `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
	Meta          *correctMeta `json:"meta,omitempty"`
	FallbackModel string       `json:"fallbackModel,omitempty"`
}

// keyHeader returns the request header carrying the key for p.
func keyHeader(p catalog.ProviderID) string {
	return "X-" + strings.ToUpper(string(p)) + "-KEY"
}

func (a *API) handleCorrect(w http.ResponseWriter, r *http.Request) {
	start := a.now()

	var req correctRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(w, "Text is required")
		return
	}

	provider, model, msg := resolveTarget(req.Provider, req.Model)
	if msg != "" {
		badRequest(w, msg)
		return
	}

	style, err := prompt.ParseStyle(req.WritingStyle)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	key := strings.TrimSpace(r.Header.Get(keyHeader(provider)))
	if key == "" {
		badRequest(w, fmt.Sprintf("%s API key is required in %s header", provider.DisplayName(), keyHeader(provider)))
		return
	}

	res, err := a.cfg.Corrector.Submit(r.Context(), orchestrator.Submission{
		Text:        req.Text,
		Style:       style,
		CustomRules: req.CustomRules,
		ModelID:     model,
		Temperature: req.Temperature,
		APIKey:      key,
		Source:      usage.SourceHTTP,
	})
	elapsed := a.now().Sub(start).Milliseconds()
	if err != nil {
		var ve *gateway.ValidationError
		if errors.As(err, &ve) {
			badRequest(w, err.Error())
			return
		}
		resp := correctResponse{Error: err.Error(), Meta: &correctMeta{Duration: elapsed}}
		if fb, ok := a.cfg.Corrector.Fallback(r.Context(), model, headerKeys(r)); ok {
			resp.FallbackModel = fb.ID
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, correctResponse{
		OK:     true,
		Result: res.Text,
		Meta:   &correctMeta{Duration: elapsed, Model: res.Model, Provider: res.Provider},
	})
}

// resolveTarget fills whichever of provider and model is missing and
// returns a client-facing message when they cannot be reconciled.
func resolveTarget(rawProvider, rawModel string) (catalog.ProviderID, string, string) {
	model := strings.TrimSpace(rawModel)
	if strings.TrimSpace(rawProvider) == "" {
		if model == "" {
			return catalog.Default().Provider, catalog.Default().ID, ""
		}
		return catalog.ProviderForModel(model), model, ""
	}

	provider, err := catalog.ParseProvider(rawProvider)
	if err != nil {
		return "", "", fmt.Sprintf("Invalid provider. Must be one of %s", quotedProviders())
	}
	if model == "" {
		d, _ := catalog.DefaultFor(provider)
		return provider, d.ID, ""
	}
	if owner := catalog.ProviderForModel(model); owner != provider {
		msg := fmt.Sprintf("Model %q belongs to provider %q, not %q", model, owner, provider)
		if hint, ok := catalog.Suggest(model); ok && catalog.ProviderForModel(hint) == provider {
			msg += fmt.Sprintf(" (did you mean %q?)", hint)
		}
		return "", "", msg
	}
	return provider, model, ""
}

func quotedProviders() string {
	ps := catalog.Providers()
	q := make([]string, len(ps))
	for i, p := range ps {
		q[i] = strconv.Quote(string(p))
	}
	return strings.Join(q, ", ")
}

// headerKeys reports which providers have a key header on r.
func headerKeys(r *http.Request) map[catalog.ProviderID]bool {
	out := make(map[catalog.ProviderID]bool)
	for _, p := range catalog.Providers() {
		if strings.TrimSpace(r.Header.Get(keyHeader(p))) != "" {
			out[p] = true
		}
	}
	return out
}

// ── /models ───────────────────────────────────────────────────────────────────

func (a *API) handleModels(w http.ResponseWriter, r *http.Request) {
	models := catalog.All()
	if r.URL.Query().Get("available") == "true" {
		models = catalog.Available(catalog.HasKeys(keystore.Presence(r.Context(), a.cfg.Keys)))
	}
	if models == nil {
		models = []catalog.ModelDescriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

// ── /usage ────────────────────────────────────────────────────────────────────

func (a *API) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		writeJSON(w, http.StatusOK, a.cfg.Ledger.Stats())
		return
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		badRequest(w, "days must be a non-negative integer")
		return
	}
	writeJSON(w, http.StatusOK, a.cfg.Ledger.StatsForWindow(days))
}

func (a *API) handleUsageEntries(w http.ResponseWriter, _ *http.Request) {
	entries := a.cfg.Ledger.Entries()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleUsageClear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		badRequest(w, "Clearing usage history is irreversible; repeat with confirm=true")
		return
	}
	if err := a.cfg.Ledger.Clear(r.Context()); err != nil {
		slog.Error("httpapi: clear usage", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── /settings ─────────────────────────────────────────────────────────────────

func (a *API) handleSettingsGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg.Settings.Get())
}

// handleSettingsPut applies a partial update: fields absent from the body
// keep their current value.
func (a *API) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	next := a.cfg.Settings.Get()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&next); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if err := next.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := a.cfg.Settings.Update(r.Context(), next); err != nil {
		slog.Error("httpapi: save settings", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if a.cfg.OnSettingsChange != nil {
		a.cfg.OnSettingsChange(r.Context(), next)
	}
	writeJSON(w, http.StatusOK, next)
}

// ── /keys ─────────────────────────────────────────────────────────────────────

func (a *API) handleKeysList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, keystore.Presence(r.Context(), a.cfg.Keys))
}

func (a *API) handleKeySet(w http.ResponseWriter, r *http.Request) {
	p, ok := a.providerParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Key) == "" {
		badRequest(w, "key must not be empty")
		return
	}
	if err := a.cfg.Keys.Set(r.Context(), p.KeyName(), strings.TrimSpace(body.Key)); err != nil {
		slog.Error("httpapi: store key", "provider", p, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := a.providerParam(w, r)
	if !ok {
		return
	}
	err := a.cfg.Keys.Delete(r.Context(), p.KeyName())
	if err != nil && !errors.Is(err, keystore.ErrNotFound) {
		slog.Error("httpapi: delete key", "provider", p, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) providerParam(w http.ResponseWriter, r *http.Request) (catalog.ProviderID, bool) {
	p, err := catalog.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return p, true
}

// ── helpers ───────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, correctResponse{Error: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}
