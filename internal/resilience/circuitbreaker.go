// Package resilience guards provider calls with per-provider circuit
// breakers.
//
// A [Breaker] is a three-state breaker (closed, open, half-open). Only
// errors the configured classifier marks as tripping count against it, so a
// rejected API key never takes a healthy provider out of rotation. A [Set]
// lazily creates one breaker per provider name.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Any probe
	// failure re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the tuning knobs for a [Breaker].
type Config struct {
	// Name labels log messages, usually the provider id.
	Name string

	// MaxFailures is the number of consecutive tripping failures that open
	// the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 1.
	HalfOpenMax int

	// Trips decides whether an error counts as a failure. Errors it rejects
	// are returned unchanged but treated as a healthy round-trip. Nil counts
	// every non-nil error.
	Trips func(error) bool

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)

	// now is overridden by tests.
	now func() time.Time
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// New creates a [Breaker]. Zero-value config fields get defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker allows it and returns fn's error unchanged.
// While open it returns [ErrCircuitOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen && b.cfg.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccesses = 0
	}
	switch {
	case b.state == StateOpen,
		b.state == StateHalfOpen && b.probes >= b.cfg.HalfOpenMax:
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	mid := b.state
	b.mu.Unlock()
	b.notify(from, mid)

	err := fn()

	b.mu.Lock()
	before := b.state
	if err != nil && b.trips(err) {
		b.recordFailure(probing)
	} else {
		b.recordSuccess(probing)
	}
	after := b.state
	b.mu.Unlock()
	b.notify(before, after)

	return err
}

func (b *Breaker) trips(err error) bool {
	if b.cfg.Trips == nil {
		return true
	}
	return b.cfg.Trips(err)
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool) {
	if probing {
		b.open()
		slog.Warn("circuit breaker re-opened after failed probe", "name", b.cfg.Name)
		return
	}
	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.cfg.MaxFailures {
		b.open()
		slog.Warn("circuit breaker opened",
			"name", b.cfg.Name,
			"consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	if !probing {
		b.consecutiveFail = 0
		return
	}
	b.probeSuccesses++
	if b.probeSuccesses >= b.cfg.HalfOpenMax {
		b.state = StateClosed
		b.consecutiveFail = 0
		b.probes = 0
		b.probeSuccesses = 0
		slog.Info("circuit breaker closed after successful probes", "name", b.cfg.Name)
	}
}

// open must be called with b.mu held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.cfg.now()
	b.consecutiveFail = b.cfg.MaxFailures
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFail = 0
	b.probes = 0
	b.probeSuccesses = 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
	slog.Info("circuit breaker manually reset", "name", b.cfg.Name)
}
