// Package usage keeps the local log of correction attempts and derives
// aggregate statistics from it.
//
// The [Ledger] holds at most [MaxEntries] entries and evicts the oldest
// first. Entries are appended in completion order. Persistence is delegated
// to a [Store]; the in-memory copy is authoritative for statistics.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/correctify/internal/catalog"
)

// MaxEntries is the FIFO cap of the ledger.
const MaxEntries = 1000

const dayMillis = 24 * 60 * 60 * 1000

// Ledger is an append-only, capped log of correction attempts. It is safe for
// concurrent use.
type Ledger struct {
	store      Store
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries []Entry
}

// Option configures a [Ledger].
type Option func(*Ledger)

// WithClock sets the time source used for default timestamps and windows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMaxEntries overrides [MaxEntries]. Non-positive values are ignored.
func WithMaxEntries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// NewLedger loads existing entries from store. A nil store uses a fresh
// [MemStore].
func NewLedger(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		store = &MemStore{}
	}
	l := &Ledger{
		store:      store,
		maxEntries: MaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}

	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("usage: load history: %w", err)
	}
	if len(entries) > l.maxEntries {
		entries = entries[len(entries)-l.maxEntries:]
	}
	l.entries = entries
	return l, nil
}

// Record appends e and evicts the oldest entries beyond the cap. A zero ID or
// Timestamp is filled in. The in-memory ledger is updated even when the store
// write fails; the store error is returned.
func (l *Ledger) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = l.now().UnixMilli()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	overflow := len(l.entries) > l.maxEntries
	if overflow {
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-l.maxEntries:]...)
	}

	if err := l.store.Append(ctx, e); err != nil {
		return e, fmt.Errorf("usage: persist entry: %w", err)
	}
	if overflow {
		if err := l.store.Trim(ctx, l.maxEntries); err != nil {
			return e, fmt.Errorf("usage: trim history: %w", err)
		}
	}
	return e, nil
}

// Entries returns a copy of all entries, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear irreversibly deletes every entry. Callers are expected to have
// obtained explicit confirmation.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("usage: clear history: %w", err)
	}
	return nil
}

// Stats aggregates every retained entry.
func (l *Ledger) Stats() Stats {
	return Aggregate(l.Entries())
}

// StatsForWindow aggregates entries whose timestamp is within the last days
// days. A window of zero or fewer days is empty.
func (l *Ledger) StatsForWindow(days int) Stats {
	if days <= 0 {
		return Aggregate(nil)
	}
	cutoff := l.now().UnixMilli() - int64(days)*dayMillis

	l.mu.Lock()
	window := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Timestamp >= cutoff {
			window = append(window, e)
		}
	}
	l.mu.Unlock()
	return Aggregate(window)
}

// ProviderStats is the per-provider slice of [Stats].
type ProviderStats struct {
	Requests   int     `json:"requests"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	DurationMs int64   `json:"durationMs"`
	Tokens     int     `json:"tokens"`
	CostUSD    float64 `json:"costUsd"`
}

// Stats is derived on demand and never stored.
// SuccessfulRequests + FailedRequests always equals TotalRequests.
type Stats struct {
	TotalRequests      int     `json:"totalRequests"`
	SuccessfulRequests int     `json:"successfulRequests"`
	FailedRequests     int     `json:"failedRequests"`
	TotalDurationMs    int64   `json:"totalDurationMs"`
	TotalTokens        int     `json:"totalTokens"`
	EstimatedCostUSD   float64 `json:"estimatedCostUsd"`

	ByProvider map[catalog.ProviderID]*ProviderStats `json:"byProvider"`
}

// Aggregate computes [Stats] over entries in a single pass. Cost is an
// approximation: the mean of the model's input and output price applied to
// the estimated token count. Models without a known price add no cost.
func Aggregate(entries []Entry) Stats {
	s := Stats{ByProvider: make(map[catalog.ProviderID]*ProviderStats, 4)}
	for _, p := range catalog.Providers() {
		s.ByProvider[p] = &ProviderStats{}
	}

	for _, e := range entries {
		ps, ok := s.ByProvider[e.Provider]
		if !ok {
			ps = &ProviderStats{}
			s.ByProvider[e.Provider] = ps
		}

		s.TotalRequests++
		ps.Requests++
		if e.Success {
			s.SuccessfulRequests++
			ps.Successful++
		} else {
			s.FailedRequests++
			ps.Failed++
		}
		s.TotalDurationMs += e.DurationMs
		ps.DurationMs += e.DurationMs
		s.TotalTokens += e.TokensEstimated
		ps.Tokens += e.TokensEstimated

		if d, ok := catalog.ByID(e.Model); ok && d.CostPerThousandTokens != nil && e.TokensEstimated > 0 {
			avg := (d.CostPerThousandTokens.Input + d.CostPerThousandTokens.Output) / 2
			cost := float64(e.TokensEstimated) / 1000 * avg
			s.EstimatedCostUSD += cost
			ps.CostUSD += cost
		}
	}
	return s
}
