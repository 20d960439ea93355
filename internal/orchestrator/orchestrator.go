// Package orchestrator turns a correction submission into exactly one
// provider call and exactly one usage entry.
//
// The [Orchestrator] resolves the provider from the model id, looks up the
// provider's API key, invokes the matching [gateway.Corrector] through a
// per-provider circuit breaker and records the attempt in the
// [usage.Ledger]. It never retries. [Orchestrator.Fallback] computes an
// advisory retry target that callers may offer to the user.
//
// All exported methods are safe for concurrent use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/correctify/internal/catalog"
	"github.com/MrWong99/correctify/internal/gateway"
	"github.com/MrWong99/correctify/internal/keystore"
	"github.com/MrWong99/correctify/internal/observe"
	"github.com/MrWong99/correctify/internal/prompt"
	"github.com/MrWong99/correctify/internal/resilience"
	"github.com/MrWong99/correctify/internal/usage"
)

// Submission is one correction attempt as handed over by a caller.
type Submission struct {
	Text        string
	Style       prompt.Style
	CustomRules string
	ModelID     string
	Temperature float64

	// APIKey overrides the key store lookup. The HTTP endpoint sets it from
	// the X-{PROVIDER}-KEY header.
	APIKey string

	Source usage.Source
}

// Result is a successful correction plus the metadata callers display.
type Result struct {
	gateway.Result
	Provider catalog.ProviderID `json:"provider"`
	Model    string             `json:"model"`
	Duration time.Duration      `json:"-"`
}

// Orchestrator coordinates key lookup, provider invocation and usage
// accounting. It holds no per-request state.
type Orchestrator struct {
	registry *gateway.Registry
	keys     keystore.Store
	ledger   *usage.Ledger
	breakers *resilience.Set
	metrics  *observe.Metrics
	now      func() time.Time
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithBreakers routes every provider call through the breaker named after
// the provider. Without it calls go straight to the gateway.
func WithBreakers(s *resilience.Set) Option {
	return func(o *Orchestrator) {
		o.breakers = s
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock overrides the wall clock used to measure call duration.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator. All three collaborators are required.
func New(registry *gateway.Registry, keys keystore.Store, ledger *usage.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		keys:     keys,
		ledger:   ledger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Submit validates s, invokes the provider owning s.ModelID and records the
// attempt.
//
// Validation failures return a [*gateway.ValidationError] and record
// nothing. Every later failure records exactly one failed [usage.Entry]
// before the error is returned: a missing key yields a
// [*gateway.ConfigError], a provider failure a [*gateway.ProviderError].
func (o *Orchestrator) Submit(ctx context.Context, s Submission) (Result, error) {
	req, err := o.validate(s)
	if err != nil {
		return Result{}, err
	}

	ctx, span := observe.StartSpan(ctx, "orchestrator.submit",
		trace.WithAttributes(
			attribute.String("correctify.provider", string(req.Provider)),
			attribute.String("correctify.model", req.Model),
			attribute.String("correctify.source", string(s.Source)),
			attribute.Int("correctify.text_length", len(req.Text)),
		),
	)
	res, err := o.submit(ctx, req, s)
	observe.EndSpan(span, err)
	return res, err
}

func (o *Orchestrator) submit(ctx context.Context, req gateway.Request, s Submission) (Result, error) {
	log := observe.Logger(ctx).With("provider", req.Provider, "model", req.Model, "source", s.Source)

	key, err := o.resolveKey(ctx, req.Provider, s.APIKey)
	if err != nil {
		o.recordFailure(ctx, req, s.Source, 0, err, "config")
		log.Warn("correction rejected", "err", err)
		return Result{}, err
	}

	corrector, err := o.registry.New(req.Provider, key)
	if err != nil {
		o.recordFailure(ctx, req, s.Source, 0, err, "config")
		log.Warn("correction rejected", "err", err)
		return Result{}, err
	}

	o.metrics.CorrectionsInFlight.Add(ctx, 1)
	start := o.now()
	var out gateway.Result
	call := func() error {
		var cerr error
		out, cerr = corrector.Correct(ctx, req)
		return cerr
	}
	if o.breakers != nil {
		err = o.breakers.Execute(string(req.Provider), call)
	} else {
		err = call()
	}
	elapsed := o.now().Sub(start)
	o.metrics.CorrectionsInFlight.Add(ctx, -1)

	if err != nil {
		err = o.normalise(req, err)
		o.recordFailure(ctx, req, s.Source, elapsed, err, errorKind(err))
		log.Warn("correction failed", "duration", elapsed, "err", err)
		return Result{}, err
	}

	entry := usage.Entry{
		Provider:        req.Provider,
		Model:           req.Model,
		TokensEstimated: usage.EstimateTokens(req.Text) + usage.EstimateTokens(out.Text),
		DurationMs:      elapsed.Milliseconds(),
		Success:         true,
		Source:          s.Source,
	}
	o.record(ctx, entry)
	o.metrics.RecordCorrection(ctx, string(req.Provider), req.Model, string(s.Source), "ok", elapsed.Seconds())
	log.Info("correction completed", "duration", elapsed, "input_len", len(req.Text), "output_len", len(out.Text))

	return Result{Result: out, Provider: req.Provider, Model: req.Model, Duration: elapsed}, nil
}

// Fallback returns the first free-tier model available with the stored keys
// (plus extraKeys) that differs from failedModelID. It never submits
// anything.
func (o *Orchestrator) Fallback(ctx context.Context, failedModelID string, extraKeys map[catalog.ProviderID]bool) (catalog.ModelDescriptor, bool) {
	have := keystore.Presence(ctx, o.keys)
	for p, ok := range extraKeys {
		if ok {
			have[p] = true
		}
	}
	return catalog.FirstFree(catalog.Available(catalog.HasKeys(have)), failedModelID)
}

// Ledger returns the usage ledger attempts are recorded in.
func (o *Orchestrator) Ledger() *usage.Ledger {
	return o.ledger
}

func (o *Orchestrator) validate(s Submission) (gateway.Request, error) {
	if strings.TrimSpace(s.Text) == "" {
		return gateway.Request{}, &gateway.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	style := s.Style
	if style == "" {
		style = prompt.DefaultStyle
	}
	if !style.Valid() {
		return gateway.Request{}, &gateway.ValidationError{
			Field:  "writingStyle",
			Reason: fmt.Sprintf("unknown style %q", s.Style),
		}
	}
	model := strings.TrimSpace(s.ModelID)
	if model == "" {
		model = catalog.Default().ID
	}
	return gateway.Request{
		Text:        s.Text,
		Provider:    catalog.ProviderForModel(model),
		Model:       model,
		Temperature: s.Temperature,
		Style:       style,
		CustomRules: s.CustomRules,
	}, nil
}

func (o *Orchestrator) resolveKey(ctx context.Context, provider catalog.ProviderID, explicit string) (string, error) {
	if k := strings.TrimSpace(explicit); k != "" {
		return k, nil
	}
	k, ok, err := keystore.Lookup(ctx, o.keys, provider)
	if err != nil {
		return "", &gateway.ConfigError{Provider: provider, Err: fmt.Errorf("read key: %w", err)}
	}
	if !ok {
		return "", &gateway.ConfigError{Provider: provider, Err: gateway.ErrMissingKey}
	}
	return k, nil
}

// normalise maps breaker rejections into the gateway taxonomy so callers
// only ever see ConfigError, ProviderError or ValidationError.
func (o *Orchestrator) normalise(req gateway.Request, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &gateway.ProviderError{
			Provider: req.Provider,
			Model:    req.Model,
			Message:  "provider temporarily unavailable after repeated failures",
			Err:      err,
		}
	}
	return err
}

func (o *Orchestrator) recordFailure(ctx context.Context, req gateway.Request, src usage.Source, elapsed time.Duration, err error, kind string) {
	o.record(ctx, usage.Entry{
		Provider:        req.Provider,
		Model:           req.Model,
		TokensEstimated: usage.EstimateTokens(req.Text),
		DurationMs:      elapsed.Milliseconds(),
		Success:         false,
		Error:           err.Error(),
		Source:          src,
	})
	o.metrics.RecordCorrection(ctx, string(req.Provider), req.Model, string(src), "error", elapsed.Seconds())
	o.metrics.RecordProviderError(ctx, string(req.Provider), kind)
}

func (o *Orchestrator) record(ctx context.Context, e usage.Entry) {
	if _, err := o.ledger.Record(ctx, e); err != nil {
		slog.Warn("orchestrator: usage entry not persisted", "provider", e.Provider, "err", err)
	}
}

func errorKind(err error) string {
	var (
		ce *gateway.ConfigError
		ve *gateway.ValidationError
	)
	switch {
	case errors.As(err, &ce):
		return "config"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, gateway.ErrEmptyResponse):
		return "empty"
	case errors.As(err, &ve):
		return "validation"
	default:
		return "provider"
	}
}
